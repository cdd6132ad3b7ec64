package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "directory.Pipeline"
	sendMethod      = "/" + ServiceName + "/Send"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// envelope is the message carried as a structpb.Struct in both directions:
// sn and action are strings, state and code numbers, and data the JSON
// payload as a string.
type envelope struct {
	SN     string
	Action string
	State  int
	Code   int
	Data   json.RawMessage
}

// GRPCPipeline implements Pipeline over a gRPC connection. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
type GRPCPipeline struct {
	Handlers

	endpointURL string
	conn        *grpc.ClientConn
	logger      logging.Logger

	mu          sync.RWMutex
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (p *GRPCPipeline) token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accessToken
}

// SetToken replaces the token attached to subsequent calls.
func (p *GRPCPipeline) SetToken(token string) {
	p.mu.Lock()
	p.accessToken = token
	p.mu.Unlock()
}

func (p *GRPCPipeline) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(withAccessToken(ctx, p.token()), method, req, reply, cc, opts...)
}

func (p *GRPCPipeline) accessTokenStreamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, p.token()), desc, cc, method, opts...)
}

// NewGRPCPipeline creates a client for endpointURL. Extra dial options are
// appended after the defaults.
func NewGRPCPipeline(endpointURL string, logger logging.Logger, opts ...grpc.DialOption) (*GRPCPipeline, error) {
	p := &GRPCPipeline{endpointURL: endpointURL, logger: logger}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(p.accessTokenInterceptor),
		grpc.WithStreamInterceptor(p.accessTokenStreamInterceptor),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func (p *GRPCPipeline) Send(ctx context.Context, action string, payload any) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", action, err)
	}

	sn, ok := SNFromContext(ctx)
	if !ok {
		sn = uuid.NewString()
	}
	req, err := toStruct(envelope{SN: sn, Action: action, Data: data})
	if err != nil {
		return nil, err
	}

	reply := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, sendMethod, req, reply); err != nil {
		return nil, p.mapError(err)
	}

	resp, err := fromStruct(reply)
	if err != nil {
		return nil, err
	}
	if resp.SN == "" {
		resp.SN = sn
	}
	if resp.Action == "" {
		resp.Action = action
	}
	return resp, nil
}

// Listen opens the push stream and dispatches every packet to the
// subscribed handlers until ctx is cancelled or the stream ends.
func (p *GRPCPipeline) Listen(ctx context.Context) error {
	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	stream, err := p.conn.NewStream(ctx, desc, subscribeMethod)
	if err != nil {
		return p.mapError(err)
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return p.mapError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return p.mapError(err)
	}

	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return p.mapError(err)
		}

		push, err := fromStruct(msg)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn(ctx, "dropping malformed push", "error", err)
			}
			continue
		}
		p.Dispatch(ctx, push)
	}
}

func (p *GRPCPipeline) Close() error {
	return p.conn.Close()
}

func (p *GRPCPipeline) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

// toStruct carries data as a JSON string: structpb numbers are doubles and
// would round ids above 2^53.
func toStruct(env envelope) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		"sn":     structpb.NewStringValue(env.SN),
		"action": structpb.NewStringValue(env.Action),
	}
	if env.State != 0 {
		fields["state"] = structpb.NewNumberValue(float64(env.State))
	}
	if env.Code != 0 {
		fields["code"] = structpb.NewNumberValue(float64(env.Code))
	}
	if len(env.Data) > 0 {
		if !json.Valid(env.Data) {
			return nil, fmt.Errorf("build request: %s data is not JSON", env.Action)
		}
		fields["data"] = structpb.NewStringValue(string(env.Data))
	}
	return &structpb.Struct{Fields: fields}, nil
}

func fromStruct(s *structpb.Struct) (*Response, error) {
	fields := s.GetFields()
	resp := &Response{
		SN:     fields["sn"].GetStringValue(),
		Action: fields["action"].GetStringValue(),
	}

	var err error
	if resp.StateCode, err = intField(fields, "state"); err != nil {
		return nil, err
	}
	if resp.Code, err = intField(fields, "code"); err != nil {
		return nil, err
	}
	if resp.Data, err = dataField(fields["data"]); err != nil {
		return nil, err
	}
	return resp, nil
}

func intField(fields map[string]*structpb.Value, name string) (int, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("decode response: %s is not an integer", name)
	}
	return int(n.NumberValue), nil
}

// dataField accepts the JSON string form and, from servers that send it,
// a structured value. A structured value holding an integer too large for
// a double to carry exactly is rejected rather than silently rounded.
func dataField(v *structpb.Value) (json.RawMessage, error) {
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StringValue:
		if !json.Valid([]byte(k.StringValue)) {
			return nil, errors.New("decode response: data is not JSON")
		}
		return json.RawMessage(k.StringValue), nil
	default:
		raw := v.AsInterface()
		if err := checkExactNumbers(raw); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return b, nil
	}
}

// maxExactInt is the largest integer a float64 holds without rounding.
const maxExactInt = 1 << 53

func checkExactNumbers(v any) error {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) >= maxExactInt {
			return fmt.Errorf("number %.0f cannot be represented exactly", t)
		}
	case map[string]any:
		for _, e := range t {
			if err := checkExactNumbers(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkExactNumbers(e); err != nil {
				return err
			}
		}
	}
	return nil
}
