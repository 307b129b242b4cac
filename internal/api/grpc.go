package api

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"quantdesk/internal/strategy"
)

// gRPC method names of the quantdesk.v1.Backtest service.
const (
	BacktestServiceName  = "quantdesk.v1.Backtest"
	RunMethod            = "/" + BacktestServiceName + "/Run"
	ListStrategiesMethod = "/" + BacktestServiceName + "/ListStrategies"
)

// BacktestServer is the server API of quantdesk.v1.Backtest. Messages are
// google.protobuf.Struct so clients need no generated stubs.
type BacktestServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBacktestServer registers srv on s.
func RegisterBacktestServer(s grpc.ServiceRegistrar, srv BacktestServer) {
	s.RegisterService(&backtestServiceDesc, srv)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "ListStrategies", Handler: listStrategiesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quantdesk/v1/backtest.proto",
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listStrategiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).ListStrategies(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListStrategiesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).ListStrategies(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// BacktestService adapts Service to the gRPC API.
type BacktestService struct {
	svc *Service
}

var _ BacktestServer = (*BacktestService)(nil)

// NewBacktestService creates the gRPC front end for svc.
func NewBacktestService(svc *Service) *BacktestService {
	return &BacktestService{svc: svc}
}

// Run expects the fields symbol, strategy, start, end, initial_cash and an
// optional params struct.
func (b *BacktestService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	req := RunRequest{
		Symbol:      strings.ToUpper(strings.TrimSpace(f["symbol"].GetStringValue())),
		Strategy:    f["strategy"].GetStringValue(),
		Start:       f["start"].GetStringValue(),
		End:         f["end"].GetStringValue(),
		InitialCash: f["initial_cash"].GetNumberValue(),
		Params:      strategy.Params{},
	}
	if p := f["params"].GetStructValue(); p != nil {
		for k, v := range p.AsMap() {
			req.Params[k] = v
		}
	}

	reply, err := b.svc.Run(ctx, req)
	if err != nil {
		switch {
		case isBadRequest(err):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case isUpstream(err):
			return nil, status.Error(codes.Unavailable, err.Error())
		case ctx.Err() != nil:
			return nil, status.FromContextError(ctx.Err()).Err()
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}

	out, err := structpb.NewStruct(reportFields(req.Symbol, reply))
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding result: %v", err))
	}
	return out, nil
}

// ListStrategies returns {"strategies": [...]}.
func (b *BacktestService) ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	names := b.svc.Strategies()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return structpb.NewStruct(map[string]any{"strategies": list})
}
