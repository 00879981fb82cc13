// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/monitor"
	"github.com/studybuddy/sentinel/pkg/resilience"
	"github.com/studybuddy/sentinel/pkg/runtime"
)

// scenario is a synthetic failure raised in one pipeline layer.
type scenario struct {
	Layer   errors.Layer
	Message string
}

var scenarios = []scenario{
	{Layer: errors.LayerInputValidation, Message: "input validation failed: malformed question"},
	{Layer: errors.LayerContextMemory, Message: "database connection failed"},
	{Layer: errors.LayerResponseValidation, Message: "ai service timeout"},
	{Layer: errors.LayerFeedbackLearning, Message: "rate limit exceeded on feedback store"},
	{Layer: errors.LayerQualityAssurance, Message: "invalid api key for quality checker"},
}

type simulateOptions struct {
	Count       int
	FailureRate float64
	CascadeRate float64
	Attempts    int
	Delay       time.Duration
	Fallback    bool
	Seed        uint64
	JSON        bool
}

type simulationSummary struct {
	Requests      int     `json:"requests"`
	Succeeded     int     `json:"succeeded"`
	Recovered     int     `json:"recovered"`
	FallbacksUsed int     `json:"fallbacks_used"`
	Failed        int     `json:"failed"`
	Attempts      int     `json:"attempts"`
	Correlations  int     `json:"correlations"`
	Cascading     int     `json:"cascading"`
	ErrorReports  int     `json:"error_reports"`
	Alerts        int     `json:"alerts"`
	ErrorEvents   int     `json:"error_events"`
	RecoveryRate  float64 `json:"recovery_rate"`
	HealthStatus  string  `json:"health_status"`
	HealthScore   float64 `json:"health_score"`
}

func simulateCmd(flags *globalFlags) *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive synthetic pipeline failures through the error handling services",
		Long: `Drive synthetic pipeline failures through the error handling services.

Each request runs one operation in a random layer. Failing operations are
retried and fall back to a degraded answer; some fail again downstream
under the same correlation ID. Unrecovered failures are filed as error
reports. A summary of the run and the resulting health is printed.

Examples:
  sentinel simulate --count 50 --failure-rate 0.4
  sentinel simulate --count 20 --fallback=false --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Count < 1 {
				return fmt.Errorf("--count must be positive")
			}
			if opts.FailureRate < 0 || opts.FailureRate > 1 || opts.CascadeRate < 0 || opts.CascadeRate > 1 {
				return fmt.Errorf("rates must be between 0 and 1")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd, cfg)
			if err != nil {
				return err
			}
			defer rt.Stop(cmd.Context())

			summary, err := simulate(cmd.Context(), rt, opts)
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary, opts.JSON)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 25, "number of simulated requests")
	cmd.Flags().Float64Var(&opts.FailureRate, "failure-rate", 0.3, "share of requests that fail")
	cmd.Flags().Float64Var(&opts.CascadeRate, "cascade-rate", 0.25, "share of failures that also fail downstream")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 3, "attempts per operation")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 5*time.Millisecond, "base retry delay")
	cmd.Flags().BoolVar(&opts.Fallback, "fallback", true, "fall back to a degraded answer when retries are exhausted")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "JSON output")
	return cmd
}

func simulate(ctx context.Context, rt *runtime.Runtime, opts simulateOptions) (simulationSummary, error) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed))
	summary := simulationSummary{Requests: opts.Count}

	for i := 0; i < opts.Count; i++ {
		sc := scenarios[rng.IntN(len(scenarios))]
		failures := 0
		if rng.Float64() < opts.FailureRate {
			failures = 1 + rng.IntN(opts.Attempts+1)
		}
		ec := errors.ErrorContext{
			UserID:         fmt.Sprintf("student-%d", rng.IntN(10)),
			SessionID:      fmt.Sprintf("session-%d", i),
			ConversationID: fmt.Sprintf("conversation-%d", i),
			CorrelationID:  uuid.NewString(),
		}

		res := rt.Execute(ctx, failingOp(sc, failures), retryConfig(sc.Layer, opts), ec)
		summary.record(res)
		if res.Err != nil {
			if _, err := rt.Feedback().SubmitErrorReport(ctx, res.Err, "simulated failure", ec); err != nil {
				return summary, fmt.Errorf("error report: %w", err)
			}
			summary.ErrorReports++
		}

		if failures > 0 && sc.Layer < errors.LayerQualityAssurance && rng.Float64() < opts.CascadeRate {
			next := scenarios[int(sc.Layer)]
			res := rt.Execute(ctx, failingOp(next, 1), retryConfig(next.Layer, opts), ec)
			summary.Requests++
			summary.record(res)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	correlations, err := rt.Tracker().List(ctx)
	if err != nil {
		return summary, err
	}
	summary.Correlations = len(correlations)
	cascading, err := rt.Tracker().Cascading(ctx)
	if err != nil {
		return summary, err
	}
	summary.Cascading = len(cascading)

	if err := rt.Events().Sweep(ctx); err != nil {
		return summary, err
	}
	metrics, err := rt.Events().Metrics(ctx, monitor.TimeRange{})
	if err != nil {
		return summary, err
	}
	summary.ErrorEvents = metrics.TotalErrors
	summary.RecoveryRate = metrics.RecoverySuccessRate

	status, err := rt.Health().Check(ctx)
	if err != nil {
		return summary, err
	}
	summary.HealthStatus = string(status.Overall)
	summary.HealthScore = status.Score
	summary.Alerts = len(rt.Health().ActiveAlerts())
	return summary, nil
}

// failingOp fails with the scenario message on its first failures calls.
func failingOp(sc scenario, failures int) resilience.Operation {
	calls := 0
	return func(ctx context.Context) (any, error) {
		calls++
		if calls <= failures {
			return nil, fmt.Errorf("%s", sc.Message)
		}
		return fmt.Sprintf("answer from %s", sc.Layer), nil
	}
}

func retryConfig(layer errors.Layer, opts simulateOptions) resilience.RetryConfig {
	cfg := resilience.RetryConfig{
		MaxRetries:        opts.Attempts,
		BaseDelay:         opts.Delay,
		MaxDelay:          opts.Delay * 8,
		BackoffMultiplier: 2,
		Jitter:            true,
		Layer:             layer,
	}
	if opts.Fallback {
		cfg = cfg.WithFallbacks(resilience.DegradedFallback("degraded-answer", 1,
			"Study Buddy is having trouble right now. Here is a simplified answer."))
	}
	return cfg
}

func (s *simulationSummary) record(res resilience.Result) {
	s.Attempts += res.Attempts
	switch {
	case !res.Success:
		s.Failed++
	case res.FallbackUsed != "":
		s.FallbacksUsed++
		s.Recovered++
	case res.Recovered:
		s.Recovered++
	default:
		s.Succeeded++
	}
}

func printSummary(w io.Writer, s simulationSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Requests\t%d\n", s.Requests)
	fmt.Fprintf(tw, "Succeeded\t%d\n", s.Succeeded)
	fmt.Fprintf(tw, "Recovered\t%d (fallback %d)\n", s.Recovered, s.FallbacksUsed)
	fmt.Fprintf(tw, "Failed\t%d\n", s.Failed)
	fmt.Fprintf(tw, "Attempts\t%d\n", s.Attempts)
	fmt.Fprintf(tw, "Correlations\t%d (cascading %d)\n", s.Correlations, s.Cascading)
	fmt.Fprintf(tw, "Error events\t%d\n", s.ErrorEvents)
	fmt.Fprintf(tw, "Recovery rate\t%.1f%%\n", s.RecoveryRate*100)
	fmt.Fprintf(tw, "Error reports\t%d\n", s.ErrorReports)
	fmt.Fprintf(tw, "Active alerts\t%d\n", s.Alerts)
	fmt.Fprintf(tw, "Health\t%s (%.1f)\n", s.HealthStatus, s.HealthScore)
	return tw.Flush()
}
