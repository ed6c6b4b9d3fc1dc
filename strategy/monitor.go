package strategy

import (
	"context"
	"time"
)

// Observation is one sample of live system health.
type Observation struct {
	// ErrorRate is the percentage of failing operations (0-100).
	ErrorRate float64

	// LatencyMs is the observed operation latency in milliseconds.
	LatencyMs float64
}

// SampleFunc produces one health observation. Implementations typically
// query an application metrics endpoint.
type SampleFunc func(ctx context.Context) Observation

// Thresholds are the breach limits for a monitored window. A zero limit
// disables the corresponding check. When a Baseline is set, observations are
// compared as deltas above it rather than as absolute values.
type Thresholds struct {
	ErrorRate float64
	LatencyMs float64
	Baseline  Observation
}

// Breach describes a threshold violation.
type Breach struct {
	Metric    string
	Value     float64
	Threshold float64
}

// Severe reports whether the value reached twice its threshold. Severe
// breaches trigger emergency rollback instead of a pause.
func (b Breach) Severe() bool {
	return b.Threshold > 0 && b.Value >= 2*b.Threshold
}

func (t Thresholds) check(obs Observation) *Breach {
	if t.ErrorRate > 0 {
		if delta := obs.ErrorRate - t.Baseline.ErrorRate; delta > t.ErrorRate {
			return &Breach{Metric: "error_rate", Value: delta, Threshold: t.ErrorRate}
		}
	}
	if t.LatencyMs > 0 {
		if delta := obs.LatencyMs - t.Baseline.LatencyMs; delta > t.LatencyMs {
			return &Breach{Metric: "latency_ms", Value: delta, Threshold: t.LatencyMs}
		}
	}
	return nil
}

// watchWindow samples health at the given interval for the given window.
// It returns the first breach, or nil if the window passes clean. The
// sampling goroutine is always stopped before watchWindow returns.
func watchWindow(ctx context.Context, window, interval time.Duration, sample SampleFunc, thresholds Thresholds) (*Breach, error) {
	if sample == nil || window <= 0 {
		return nil, nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	breaches := make(chan Breach, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				if breach := thresholds.check(sample(watchCtx)); breach != nil {
					select {
					case breaches <- *breach:
					case <-watchCtx.Done():
					}
					return
				}
			}
		}
	}()

	deadline := time.NewTimer(window)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	case breach := <-breaches:
		<-done
		return &breach, nil
	case <-deadline.C:
		cancel()
		<-done
		return nil, nil
	}
}
