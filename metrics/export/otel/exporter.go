// Package otelexport bridges the engine's counter set into OpenTelemetry
// observable instruments. The engine keeps counting lock-free; collection
// reads the counters only when the meter provider scrapes.
package otelexport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"authgate"
)

const instrumentPrefix = "authgate."

// Register creates one observable counter per engine metric on meter and
// wires a collection callback reading from m. The returned Registration
// must be unregistered before the engine is discarded.
func Register(meter metric.Meter, m *authgate.Metrics) (metric.Registration, error) {
	ids := authgate.MetricIDs()
	counters := make(map[authgate.MetricID]metric.Int64ObservableCounter, len(ids))
	observables := make([]metric.Observable, 0, len(ids))

	for _, id := range ids {
		counter, err := meter.Int64ObservableCounter(
			instrumentPrefix+id.Name(),
			metric.WithDescription("authgate engine counter "+id.Name()),
		)
		if err != nil {
			return nil, fmt.Errorf("create instrument %s: %w", id.Name(), err)
		}
		counters[id] = counter
		observables = append(observables, counter)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for id, counter := range counters {
			o.ObserveInt64(counter, int64(m.Value(id)))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return reg, nil
}
