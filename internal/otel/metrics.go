package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	messagesCounter     metric.Int64Counter
	acksCounter         metric.Int64Counter
	conflictChecks      metric.Int64Counter
	votesCounter        metric.Int64Counter
	resolutionsCounter  metric.Int64Counter
	taskOpsCounter      metric.Int64Counter
	meetingCounter      metric.Int64Counter
	rpcCounter          metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		counters := []struct {
			dest *metric.Int64Counter
			name string
			desc string
		}{
			{&messagesCounter, "meetinghub_messages_posted_total", "Neuron messages posted"},
			{&acksCounter, "meetinghub_acknowledgments_total", "Acknowledge calls, including repeats"},
			{&conflictChecks, "meetinghub_conflict_checks_total", "Resource conflict checks by result"},
			{&votesCounter, "meetinghub_votes_total", "Votes cast, including replacements"},
			{&resolutionsCounter, "meetinghub_decision_resolutions_total", "Decisions resolved by outcome status"},
			{&taskOpsCounter, "meetinghub_task_operations_total", "Task graph operations (assign, update, depend)"},
			{&meetingCounter, "meetinghub_meeting_transitions_total", "Meeting status transitions"},
			{&rpcCounter, "meetinghub_rpc_calls_total", "gRPC calls by method and result"},
			{&sseEventsCounter, "meetinghub_sse_events_total", "Total SSE events published"},
		}
		for _, c := range counters {
			*c.dest, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
			if err != nil {
				return
			}
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("meetinghub_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
	})
	return err
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMessagePosted counts one posted message.
func RecordMessagePosted(ctx context.Context, messageType, priority string) {
	add(ctx, messagesCounter, AttrType.String(messageType), AttrPriority.String(priority))
}

// RecordAcknowledge counts an acknowledge call. first is false for idempotent repeats.
func RecordAcknowledge(ctx context.Context, agent string, first bool) {
	result := "first"
	if !first {
		result = "repeat"
	}
	add(ctx, acksCounter, AttrAgent.String(agent), AttrResult.String(result))
}

// RecordConflictCheck counts a conflict check; hit means an active claim was found.
func RecordConflictCheck(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	add(ctx, conflictChecks, AttrResult.String(result))
}

func RecordVote(ctx context.Context, vote string) {
	add(ctx, votesCounter, attribute.String("vote", vote))
}

func RecordResolution(ctx context.Context, status string) {
	add(ctx, resolutionsCounter, AttrStatus.String(status))
}

// RecordTaskOp records a task operation (assign, update, depend, etc.).
func RecordTaskOp(ctx context.Context, op string, status string) {
	add(ctx, taskOpsCounter, attribute.String("operation", op), AttrStatus.String(status))
}

func RecordMeetingTransition(ctx context.Context, status string) {
	add(ctx, meetingCounter, AttrStatus.String(status))
}

// RecordRPC counts one gRPC call and its status code name.
func RecordRPC(ctx context.Context, method, code string) {
	add(ctx, rpcCounter, AttrMethod.String(method), AttrResult.String(code))
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	add(ctx, sseEventsCounter)
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// QueueDepthFunc returns the number of unacknowledged messages. Used for the meetinghub_unacknowledged_messages gauge.
type QueueDepthFunc func(ctx context.Context) (int64, error)

// InitMetricsWithQueueDepth creates instruments and optionally registers a callback for the backlog gauge.
// Call after InitMeterProvider. If depth is nil, the gauge is not reported.
func InitMetricsWithQueueDepth(ctx context.Context, depth QueueDepthFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if depth == nil {
		return nil
	}
	m := Meter()
	gauge, err := m.Int64ObservableGauge("meetinghub_unacknowledged_messages", metric.WithDescription("Messages not yet acknowledged"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := depth(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}
