package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/plfl21/openclaw-meeting-hub/internal/neuron"
	"github.com/plfl21/openclaw-meeting-hub/internal/otel"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "meetinghub.neuron.v1.Neuron"

// NeuronServer is the server side of the Neuron service. Requests and responses are
// google.protobuf.Struct values with the HTTP API's field names.
type NeuronServer interface {
	Post(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Feed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AgentQueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Acknowledge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckConflict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Handoff(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type handlerFunc func(NeuronServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(NeuronServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(NeuronServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the Neuron service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NeuronServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Post", NeuronServer.Post),
		unary("Feed", NeuronServer.Feed),
		unary("AgentQueue", NeuronServer.AgentQueue),
		unary("Acknowledge", NeuronServer.Acknowledge),
		unary("CheckConflict", NeuronServer.CheckConflict),
		unary("Handoff", NeuronServer.Handoff),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meetinghub/neuron/v1/neuron.proto",
}

// RegisterNeuronServer registers srv on s.
func RegisterNeuronServer(s grpc.ServiceRegistrar, srv NeuronServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var _ NeuronServer = (*Server)(nil)

// Server exposes a neuron.Bus over gRPC.
type Server struct {
	Bus *neuron.Bus
}

type feedRequest struct {
	Channel string `json:"channel"`
	Agent   string `json:"agent"`
	Type    string `json:"type"`
	Limit   int    `json:"limit"`
	Since   string `json:"since"`
}

type agentRequest struct {
	Agent string `json:"agent"`
}

type ackRequest struct {
	MessageID string `json:"message_id"`
	AgentName string `json:"agent_name"`
}

type conflictRequest struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	RequestingAgent string `json:"requesting_agent"`
}

func (s *Server) Post(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req neuron.PostInput
	if err := decodeStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	m, err := s.Bus.Post(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(m)
}

func (s *Server) Feed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req feedRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	f := neuron.FeedFilter{Channel: req.Channel, Agent: req.Agent, Type: req.Type, Limit: req.Limit}
	if req.Since != "" {
		t, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			return nil, toStatus(store.Validation("feed", "since must be RFC3339"))
		}
		f.Since = t
	}
	msgs, err := s.Bus.Feed(ctx, f)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) AgentQueue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req agentRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	msgs, err := s.Bus.AgentQueue(ctx, req.Agent)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) Acknowledge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ackRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	m, err := s.Bus.Acknowledge(ctx, req.MessageID, req.AgentName)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(m)
}

func (s *Server) CheckConflict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req conflictRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	c, err := s.Bus.CheckConflict(ctx, req.ResourceType, req.ResourceID, req.RequestingAgent)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(c)
}

func (s *Server) Handoff(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req neuron.HandoffInput
	if err := decodeStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	res, err := s.Bus.Handoff(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(res)
}

// loggingInterceptor records every call in the rpc counter and logs failures.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		otel.RecordRPC(ctx, info.FullMethod, code.String())
		if err != nil {
			logger.Warn("rpc failed", "method", info.FullMethod, "code", code.String(), "err", err)
		} else {
			logger.Debug("rpc", "method", info.FullMethod, "duration_ms", time.Since(start).Milliseconds())
		}
		return resp, err
	}
}

// NewGRPCServer builds a grpc.Server with the Neuron service and the standard health service
// registered. The health server reports SERVING for both "" and ServiceName.
func NewGRPCServer(bus *neuron.Bus, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(loggingInterceptor(logger))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterNeuronServer(gs, &Server{Bus: bus})

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}
