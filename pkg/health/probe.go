// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"math/rand"
	"sync"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/monitor"
)

// Probe samples the current value of a layer metric.
type Probe interface {
	Sample(ctx context.Context, layer errors.Layer, m Metric) (float64, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, layer errors.Layer, m Metric) (float64, error)

// Sample implements Probe.
func (f ProbeFunc) Sample(ctx context.Context, layer errors.Layer, m Metric) (float64, error) {
	return f(ctx, layer, m)
}

// BaselineProbe reports every metric at its baseline.
type BaselineProbe struct{}

// Sample implements Probe.
func (BaselineProbe) Sample(_ context.Context, _ errors.Layer, m Metric) (float64, error) {
	return m.Baseline, nil
}

// JitterProbe perturbs the baseline by up to ±5%. It stands in for real
// instrumentation in demos and local runs.
type JitterProbe struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitterProbe creates a JitterProbe seeded with seed.
func NewJitterProbe(seed int64) *JitterProbe {
	return &JitterProbe{rnd: rand.New(rand.NewSource(seed))}
}

// Sample implements Probe.
func (p *JitterProbe) Sample(_ context.Context, _ errors.Layer, m Metric) (float64, error) {
	p.mu.Lock()
	f := p.rnd.Float64()
	p.mu.Unlock()
	return m.Baseline * (1 + (f*2-1)*0.05), nil
}

// MonitorProbe derives the error_rate metric of a layer from the event
// monitor's last hour and delegates every other metric to Next. Quality
// assurance reports the error rate across all layers.
type MonitorProbe struct {
	Monitor *monitor.Monitor
	Next    Probe
}

// Sample implements Probe.
func (p MonitorProbe) Sample(ctx context.Context, layer errors.Layer, m Metric) (float64, error) {
	if m.Name != "error_rate" || p.Monitor == nil {
		return p.next().Sample(ctx, layer, m)
	}
	h, err := p.Monitor.SystemHealth(ctx)
	if err != nil {
		return 0, err
	}
	if layer == errors.LayerQualityAssurance {
		var events, errs int
		for _, l := range h.Layers {
			events += l.Events
			errs += l.Errors
		}
		if events == 0 {
			return 0, nil
		}
		return float64(errs) * 100 / float64(events), nil
	}
	for _, l := range h.Layers {
		if l.Layer == layer {
			return l.ErrorRate * 100, nil
		}
	}
	return 0, nil
}

func (p MonitorProbe) next() Probe {
	if p.Next == nil {
		return BaselineProbe{}
	}
	return p.Next
}
