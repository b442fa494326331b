package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/plfl21/openclaw-meeting-hub/internal/store"
)

// decodeStruct copies the fields of in onto v using v's JSON tags.
func decodeStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return store.Validation("decode", "malformed request")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return store.Validation("decode", "malformed request: %v", err)
	}
	return nil
}

// encodeStruct turns v into a Struct carrying the same field names as the HTTP API.
func encodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("rpc: response is not an object: %w", err)
	}
	return out, nil
}

// codeFor maps an error kind to a gRPC status code.
func codeFor(k store.Kind) codes.Code {
	switch k {
	case store.KindValidation:
		return codes.InvalidArgument
	case store.KindNotFound:
		return codes.NotFound
	case store.KindInvalidTransition, store.KindCycleDetected:
		return codes.FailedPrecondition
	case store.KindStoreUnavailable:
		return codes.Unavailable
	}
	return codes.Internal
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := store.KindOf(err)
	if kind == "" {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(codeFor(kind), store.Detail(err))
}

// fromStatus turns a gRPC error back into a *store.Error so client callers can use store.KindOf.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return store.Unavailable(op, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return store.Validation(op, "%s", st.Message())
	case codes.NotFound:
		return store.NotFound(op, "%s", st.Message())
	case codes.FailedPrecondition:
		return store.InvalidTransition(op, "%s", st.Message())
	case codes.Unavailable:
		return store.Unavailable(op, err)
	}
	return err
}
