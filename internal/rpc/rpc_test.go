package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/plfl21/openclaw-meeting-hub/internal/events"
	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/roster"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

func startServer(t *testing.T) (*Client, *grpc.ClientConn) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	bus := neuron.New(st, roster.Default(), &events.Bus{})

	lis := bufconn.Listen(1 << 20)
	gs, _ := NewGRPCServer(bus, nil)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), conn
}

func TestPostQueueAcknowledge(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	m, err := c.Post(ctx, neuron.PostInput{
		SenderAgent: "replit",
		MessageType: "question",
		Subject:     "Which port?",
		TargetAgent: "claude",
		Priority:    "high",
		Metadata:    map[string]any{"file": "main.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Replit", m.SenderName)
	assert.Equal(t, models.PriorityHigh, m.Priority)
	assert.Equal(t, "main.go", m.Metadata["file"])

	q, err := c.AgentQueue(ctx, "claude")
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, m.ID, q[0].ID)

	acked, err := c.Acknowledge(ctx, m.ID, "claude")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	q, err = c.AgentQueue(ctx, "claude")
	require.NoError(t, err)
	assert.Empty(t, q)

	feed, err := c.Feed(ctx, neuron.FeedFilter{Agent: "claude", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestErrorsCarryKinds(t *testing.T) {
	c, conn := startServer(t)
	ctx := context.Background()

	_, err := c.Post(ctx, neuron.PostInput{SenderAgent: "replit", MessageType: "gossip", Subject: "x"})
	require.Error(t, err)
	assert.Equal(t, store.KindValidation, store.KindOf(err))

	_, err = c.Acknowledge(ctx, "missing", "claude")
	assert.Equal(t, store.KindNotFound, store.KindOf(err))

	// Raw invocation exposes the gRPC code.
	in, _ := structpb.NewStruct(map[string]any{"to_agent": "all", "from_agent": "replit", "subject": "x"})
	err = conn.Invoke(ctx, "/"+ServiceName+"/Handoff", in, &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHandoffAndConflict(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	res, err := c.Handoff(ctx, neuron.HandoffInput{From: "replit", To: "lovable", Subject: "Finish auth"})
	require.NoError(t, err)
	assert.Equal(t, res.TaskAssignment.ID, res.TaskAssignmentID)
	assert.Equal(t, models.HandoffPrefix+"Finish auth", res.TaskAssignment.Subject)

	chk, err := c.CheckConflict(ctx, "file", "main.go", "claude")
	require.NoError(t, err)
	assert.False(t, chk.ConflictExists)
	assert.Equal(t, "claude", chk.RequestingAgent)

	_, err = c.Post(ctx, neuron.PostInput{
		SenderAgent: "replit",
		MessageType: string(models.MessageConflictFlag),
		Subject:     "Editing main.go",
		Metadata:    map[string]any{"resource_type": "file", "resource_id": "main.go"},
	})
	require.NoError(t, err)
	chk, err = c.CheckConflict(ctx, "file", "main.go", "claude")
	require.NoError(t, err)
	assert.True(t, chk.ConflictExists)
	require.NotNil(t, chk.ClaimedBy)
	assert.Equal(t, "replit", *chk.ClaimedBy)
}

func TestHealthService(t *testing.T) {
	_, conn := startServer(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		kind store.Kind
		want codes.Code
	}{
		{store.KindValidation, codes.InvalidArgument},
		{store.KindNotFound, codes.NotFound},
		{store.KindInvalidTransition, codes.FailedPrecondition},
		{store.KindCycleDetected, codes.FailedPrecondition},
		{store.KindStoreUnavailable, codes.Unavailable},
		{"", codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, codeFor(tt.kind), string(tt.kind))
	}
}
