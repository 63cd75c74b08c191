package activitymap

import (
	"context"
	"errors"

	auth "github.com/goliatone/go-authcore"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts activity events per type and purpose
type MetricsSink struct {
	events *prometheus.CounterVec
	reaped prometheus.Counter
}

var _ auth.ActivitySink = (*MetricsSink)(nil)

// NewMetricsSink registers its collectors with reg. A nil reg uses the
// default registerer. Registering twice on the same registry reuses the
// collectors already there.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "activity_events_total",
		Help:      "Authentication activity events by type and verification purpose.",
	}, []string{"event_type", "purpose"})

	reaped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "reaped_accounts_total",
		Help:      "Unverified sign-ups removed by the account reaper.",
	})

	var err error
	if events, err = register(reg, events); err != nil {
		return nil, err
	}
	if reaped, err = register(reg, reaped); err != nil {
		return nil, err
	}

	return &MetricsSink{events: events, reaped: reaped}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *MetricsSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType), string(event.Purpose)).Inc()

	if event.EventType == auth.ActivityEventAccountsReaped {
		if n, ok := event.Metadata["deleted_count"].(int); ok && n > 0 {
			s.reaped.Add(float64(n))
		}
	}
	return nil
}

// Fanout records every event on each sink in order. All sinks are
// tried; the first error is returned.
func Fanout(sinks ...auth.ActivitySink) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
