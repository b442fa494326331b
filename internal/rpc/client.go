package rpc

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/pkg/models"
)

// Client calls a Neuron gRPC server.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// NewClient wraps an existing connection. Close is a no-op for it.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to addr (e.g. "localhost:3848"). Without options the connection is insecure.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: conn, conn: conn}, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// call sends req as a Struct to method and decodes the reply into out.
func (c *Client) call(ctx context.Context, method string, req, out any) error {
	in, err := encodeStruct(req)
	if err != nil {
		return err
	}
	reply := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, reply); err != nil {
		return fromStatus(method, err)
	}
	b, err := protojson.Marshal(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

type messageList struct {
	Messages []models.Message `json:"messages"`
}

func (c *Client) Post(ctx context.Context, in neuron.PostInput) (*models.Message, error) {
	var m models.Message
	if err := c.call(ctx, "Post", in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Feed(ctx context.Context, f neuron.FeedFilter) ([]models.Message, error) {
	req := feedRequest{Channel: f.Channel, Agent: f.Agent, Type: f.Type, Limit: f.Limit}
	if !f.Since.IsZero() {
		req.Since = f.Since.UTC().Format(time.RFC3339)
	}
	var out messageList
	if err := c.call(ctx, "Feed", req, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) AgentQueue(ctx context.Context, agent string) ([]models.Message, error) {
	var out messageList
	if err := c.call(ctx, "AgentQueue", agentRequest{Agent: agent}, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Acknowledge(ctx context.Context, messageID, agent string) (*models.Message, error) {
	var m models.Message
	if err := c.call(ctx, "Acknowledge", ackRequest{MessageID: messageID, AgentName: agent}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) CheckConflict(ctx context.Context, resourceType, resourceID, agent string) (*models.ConflictCheck, error) {
	var out models.ConflictCheck
	req := conflictRequest{ResourceType: resourceType, ResourceID: resourceID, RequestingAgent: agent}
	if err := c.call(ctx, "CheckConflict", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Handoff(ctx context.Context, in neuron.HandoffInput) (*models.HandoffResult, error) {
	var out models.HandoffResult
	if err := c.call(ctx, "Handoff", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
