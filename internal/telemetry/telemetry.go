// Package telemetry wires the OpenTelemetry meter provider. Metrics are
// collected on demand through a manual reader and served as JSON; when
// disabled every instrument is a no-op.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MeterName is the instrumentation scope for service metrics.
const MeterName = "vidsync"

// Config holds telemetry settings.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Provider owns the meter provider and its reader.
type Provider struct {
	MeterProvider metric.MeterProvider
	Meter         metric.Meter
	reader        *sdkmetric.ManualReader
	shutdown      func(context.Context) error
}

// Point is one collected data point.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Init builds a Provider. A disabled config yields a no-op provider.
func Init(_ context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		return &Provider{
			MeterProvider: mp,
			Meter:         mp.Meter(MeterName),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "vidsync-labs"
	}
	res := resource.NewSchemaless(semconv.ServiceName(name))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	return &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(MeterName),
		reader:        reader,
		shutdown:      mp.Shutdown,
	}, nil
}

// Snapshot collects current values of every instrument. Sums report their
// value; histograms report their sum and count.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	if p.reader == nil {
		return []Point{}, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	points := []Point{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrs(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrs(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrs(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points, nil
}

// Sum adds up every point of the named metric whose attributes include match.
func Sum(points []Point, name string, match map[string]string) float64 {
	var total float64
	for _, p := range points {
		if p.Name != name {
			continue
		}
		ok := true
		for k, v := range match {
			if p.Attributes[k] != v {
				ok = false
				break
			}
		}
		if ok {
			total += p.Value
		}
	}
	return total
}

// Handler serves the snapshot as JSON.
func (p *Provider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		points, err := p.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"metrics": points})
	})
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func attrs(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
