package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashureev/vidsync-labs/internal/queue"
)

// MeterName is the instrumentation scope of orchestrator metrics.
const MeterName = "github.com/ashureev/vidsync-labs/internal/orchestrator"

// Metrics holds the orchestrator's instruments.
type Metrics struct {
	CommandsDispatched metric.Int64Counter
	CommandsExecuted   metric.Int64Counter
	CommandRetries     metric.Int64Counter
	CommandDuration    metric.Float64Histogram
	Generations        metric.Int64Counter
	Countdowns         metric.Int64Counter
}

// NewMetrics creates all instruments from meter. A nil meter uses the
// global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &Metrics{}
	var err error

	m.CommandsDispatched, err = meter.Int64Counter("vidsync.commands.dispatched",
		metric.WithDescription("Commands accepted by Dispatch"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandsExecuted, err = meter.Int64Counter("vidsync.commands.executed",
		metric.WithDescription("Commands that left the execution slot, by final status"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandRetries, err = meter.Int64Counter("vidsync.commands.retries",
		metric.WithDescription("Command attempts that failed and were retried"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram("vidsync.commands.duration",
		metric.WithDescription("Time a command held the execution slot"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.Generations, err = meter.Int64Counter("vidsync.agent.generations",
		metric.WithDescription("Agent generation calls by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.Countdowns, err = meter.Int64Counter("vidsync.countdowns.completed",
		metric.WithDescription("Resume countdowns that reached zero"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) dispatched(cmd *queue.Command) {
	if m == nil {
		return
	}
	m.CommandsDispatched.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command_type", string(cmd.Type))))
}

func (m *Metrics) executed(cmd *queue.Command, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("command_type", string(cmd.Type)),
		attribute.String("status", string(cmd.Status)),
	)
	m.CommandsExecuted.Add(context.Background(), 1, attrs)
	m.CommandDuration.Record(context.Background(), elapsed.Seconds(), attrs)
}

func (m *Metrics) retried(cmd *queue.Command) {
	if m == nil {
		return
	}
	m.CommandRetries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command_type", string(cmd.Type))))
}

func (m *Metrics) generated(agentType string, outcome string) {
	if m == nil {
		return
	}
	m.Generations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) countdownDone(kind string) {
	if m == nil {
		return
	}
	m.Countdowns.Add(context.Background(), 1, metric.WithAttributes(attribute.String("agent_type", kind)))
}
