// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type reportOptions struct {
	Format   string
	Output   string
	Feedback bool
}

func reportCmd(flags *globalFlags) *cobra.Command {
	opts := reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run a health check and print the system health report",
		Long: `Run a health check and print the system health report.

With durable storage the report reflects the events and feedback recorded
by previous runs.

Examples:
  sentinel report --format yaml
  sentinel report --format csv --output health.csv
  sentinel report --feedback --set storage.durable=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, flags, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "json", "output format (json, yaml, csv)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&opts.Feedback, "feedback", false, "print feedback analytics instead of health")
	return cmd
}

func runReport(cmd *cobra.Command, flags *globalFlags, opts reportOptions) (err error) {
	ctx := cmd.Context()
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if serr := rt.Stop(ctx); serr != nil && err == nil {
			err = serr
		}
	}()

	var data []byte
	if opts.Feedback {
		analytics, aerr := rt.Feedback().Analytics(ctx)
		if aerr != nil {
			return aerr
		}
		switch opts.Format {
		case "json", "":
			data, err = json.MarshalIndent(analytics, "", "  ")
		case "yaml":
			data, err = yaml.Marshal(analytics)
		default:
			return fmt.Errorf("feedback analytics: unsupported format %q", opts.Format)
		}
	} else {
		if _, cerr := rt.Health().Check(ctx); cerr != nil {
			return fmt.Errorf("health check: %w", cerr)
		}
		data, err = rt.Health().ExportReport(opts.Format)
	}
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), opts.Output, data)
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
