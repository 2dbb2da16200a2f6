package pb

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "rtc.AsyncInference"

// AsyncInferenceClient is the typed client for the four RPCs in
// spec.md §6.
type AsyncInferenceClient interface {
	Ready(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error)
	SendPolicyInstructions(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error)
	SendObservations(ctx context.Context, opts ...grpc.CallOption) (AsyncInference_SendObservationsClient, error)
	GetActions(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error)
}

type asyncInferenceClient struct {
	cc grpc.ClientConnInterface
}

// NewAsyncInferenceClient wraps a ClientConn for the AsyncInference
// service, forcing the rtcbytes codec on every call.
func NewAsyncInferenceClient(cc grpc.ClientConnInterface) AsyncInferenceClient {
	return &asyncInferenceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *asyncInferenceClient) Ready(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error) {
	out := new(Frame)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Ready", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *asyncInferenceClient) SendPolicyInstructions(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error) {
	out := new(Frame)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/SendPolicyInstructions", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *asyncInferenceClient) GetActions(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error) {
	out := new(Frame)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetActions", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *asyncInferenceClient) SendObservations(ctx context.Context, opts ...grpc.CallOption) (AsyncInference_SendObservationsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/SendObservations", withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &asyncInferenceSendObservationsClient{stream}, nil
}

// AsyncInference_SendObservationsClient is the client side of the
// client-streaming SendObservations RPC.
type AsyncInference_SendObservationsClient interface {
	Send(*Frame) error
	CloseAndRecv() (*Frame, error)
	grpc.ClientStream
}

type asyncInferenceSendObservationsClient struct {
	grpc.ClientStream
}

func (x *asyncInferenceSendObservationsClient) Send(m *Frame) error {
	return x.ClientStream.SendMsg(m)
}

func (x *asyncInferenceSendObservationsClient) CloseAndRecv() (*Frame, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Frame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AsyncInferenceServer is the interface the policy server implements.
type AsyncInferenceServer interface {
	Ready(context.Context, *Frame) (*Frame, error)
	SendPolicyInstructions(context.Context, *Frame) (*Frame, error)
	SendObservations(AsyncInference_SendObservationsServer) error
	GetActions(context.Context, *Frame) (*Frame, error)
}

// RegisterAsyncInferenceServer registers srv on s.
func RegisterAsyncInferenceServer(s grpc.ServiceRegistrar, srv AsyncInferenceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func _AsyncInference_Ready_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AsyncInferenceServer).Ready(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Ready"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AsyncInferenceServer).Ready(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

func _AsyncInference_SendPolicyInstructions_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AsyncInferenceServer).SendPolicyInstructions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/SendPolicyInstructions"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AsyncInferenceServer).SendPolicyInstructions(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

func _AsyncInference_GetActions_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AsyncInferenceServer).GetActions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetActions"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AsyncInferenceServer).GetActions(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

func _AsyncInference_SendObservations_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(AsyncInferenceServer).SendObservations(&asyncInferenceSendObservationsServer{stream})
}

// AsyncInference_SendObservationsServer is the server side of the
// client-streaming SendObservations RPC.
type AsyncInference_SendObservationsServer interface {
	SendAndClose(*Frame) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

type asyncInferenceSendObservationsServer struct {
	grpc.ServerStream
}

func (x *asyncInferenceSendObservationsServer) SendAndClose(m *Frame) error {
	return x.ServerStream.SendMsg(m)
}

func (x *asyncInferenceSendObservationsServer) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ServiceDesc is the grpc.ServiceDesc for the AsyncInference service,
// in the same shape protoc-gen-go-grpc emits.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AsyncInferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ready", Handler: _AsyncInference_Ready_Handler},
		{MethodName: "SendPolicyInstructions", Handler: _AsyncInference_SendPolicyInstructions_Handler},
		{MethodName: "GetActions", Handler: _AsyncInference_GetActions_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SendObservations",
			Handler:       _AsyncInference_SendObservations_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "rtc_async_inference.proto",
}
