package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

const (
	ServiceName   = "pricewatch.v1.ReconcileService"
	runMethod     = "/" + ServiceName + "/Run"
	lastRunMethod = "/" + ServiceName + "/LastRun"
)

type RunRequest struct{}

type LastRunRequest struct{}

type RunResponse struct {
	Summary domain.RunSummary `json:"summary"`
}

type ReconcileServer interface {
	Run(context.Context, *RunRequest) (*RunResponse, error)
	LastRun(context.Context, *LastRunRequest) (*RunResponse, error)
}

func RegisterReconcileServer(s grpc.ServiceRegistrar, srv ReconcileServer) {
	s.RegisterService(&reconcileServiceDesc, srv)
}

var reconcileServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReconcileServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "LastRun", Handler: lastRunHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pricewatch/v1/reconcile",
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReconcileServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReconcileServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lastRunHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LastRunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReconcileServer).LastRun(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lastRunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReconcileServer).LastRun(ctx, req.(*LastRunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the reconcile service over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Run(ctx context.Context, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, runMethod, &RunRequest{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LastRun(ctx context.Context, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, lastRunMethod, &LastRunRequest{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
