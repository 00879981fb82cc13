// SPDX-License-Identifier: Apache-2.0

package health

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// ErrUnknownFormat is returned by ExportReport for an unsupported format.
var ErrUnknownFormat = stderrors.New("unknown report format")

// Trends compares the mean of the latest samples with the samples before them.
type Trends struct {
	Overall Trend                  `json:"overall" yaml:"overall"`
	Layers  map[errors.Layer]Trend `json:"layers" yaml:"layers"`
	Samples int                    `json:"samples" yaml:"samples"`
}

// Report is the exported health report.
type Report struct {
	GeneratedAt     time.Time    `json:"generated_at" yaml:"generated_at"`
	Status          SystemStatus `json:"status" yaml:"status"`
	Trends          Trends       `json:"trends" yaml:"trends"`
	ActiveAlerts    []Alert      `json:"active_alerts" yaml:"active_alerts"`
	Recommendations []string     `json:"recommendations" yaml:"recommendations"`
}

// Trends classifies the overall and per-layer score movement: the mean of
// the last three snapshots against the three before, with ±5% as stable.
// Fewer than six snapshots report stable.
func (m *Monitor) Trends() Trends {
	history := m.History()
	t := Trends{
		Overall: TrendStable,
		Layers:  make(map[errors.Layer]Trend, len(errors.Layers)),
		Samples: len(history),
	}
	for _, layer := range errors.Layers {
		t.Layers[layer] = TrendStable
	}
	if len(history) < 2*trendWindow {
		return t
	}
	recent := history[len(history)-trendWindow:]
	previous := history[len(history)-2*trendWindow : len(history)-trendWindow]

	t.Overall = compare(meanOf(previous, overallScore), meanOf(recent, overallScore))
	for _, layer := range errors.Layers {
		score := layerScoreOf(layer)
		t.Layers[layer] = compare(meanOf(previous, score), meanOf(recent, score))
	}
	return t
}

func overallScore(s Snapshot) float64 { return s.Score }

func layerScoreOf(layer errors.Layer) func(Snapshot) float64 {
	return func(s Snapshot) float64 { return s.Layers[layer] }
}

func meanOf(snaps []Snapshot, value func(Snapshot) float64) float64 {
	var sum float64
	for _, s := range snaps {
		sum += value(s)
	}
	return sum / float64(len(snaps))
}

func compare(previous, recent float64) Trend {
	if previous == 0 {
		return TrendStable
	}
	change := (recent - previous) / previous
	switch {
	case change > trendThreshold:
		return TrendImproving
	case change < -trendThreshold:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// Report assembles the current status, trends and active alerts.
func (m *Monitor) Report() Report {
	st := m.Status()
	alerts := m.ActiveAlerts()
	if alerts == nil {
		alerts = []Alert{}
	}
	return Report{
		GeneratedAt:     m.clock.Now(),
		Status:          st,
		Trends:          m.Trends(),
		ActiveAlerts:    alerts,
		Recommendations: st.Recommendations,
	}
}

// ExportReport serializes the report as json, yaml or csv. The csv form has
// one row per history snapshot.
func (m *Monitor) ExportReport(format string) ([]byte, error) {
	switch format {
	case "json", "":
		return json.MarshalIndent(m.Report(), "", "  ")
	case "yaml":
		return yaml.Marshal(m.Report())
	case "csv":
		return m.exportCSV()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (m *Monitor) exportCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"timestamp", "score", "status"}
	for _, layer := range errors.Layers {
		header = append(header, fmt.Sprintf("layer_%d_score", int(layer)))
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, s := range m.History() {
		row := []string{
			s.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(s.Score, 'f', 2, 64),
			string(s.Overall),
		}
		for _, layer := range errors.Layers {
			row = append(row, strconv.FormatFloat(s.Layers[layer], 'f', 2, 64))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
