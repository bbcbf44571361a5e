package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AnomalyServiceName is the fully-qualified gRPC service name.
const AnomalyServiceName = "anomaly.v1.AnomalyService"

// AnomalyServiceServer is the server API for anomaly.v1.AnomalyService.
// Requests and responses are google.protobuf.Struct values whose fields
// mirror the REST query parameters and JSON bodies.
type AnomalyServiceServer interface {
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListGroups(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBufferStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAnomalyServiceServer attaches srv to s.
func RegisterAnomalyServiceServer(s grpc.ServiceRegistrar, srv AnomalyServiceServer) {
	s.RegisterService(&AnomalyServiceDesc, srv)
}

// AnomalyServiceDesc describes anomaly.v1.AnomalyService for grpc.Server.
var AnomalyServiceDesc = grpc.ServiceDesc{
	ServiceName: AnomalyServiceName,
	HandlerType: (*AnomalyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListEvents", Handler: structHandler("ListEvents", AnomalyServiceServer.ListEvents)},
		{MethodName: "ListGroups", Handler: structHandler("ListGroups", AnomalyServiceServer.ListGroups)},
		{MethodName: "GetGroup", Handler: structHandler("GetGroup", AnomalyServiceServer.GetGroup)},
		{MethodName: "GetSummary", Handler: structHandler("GetSummary", AnomalyServiceServer.GetSummary)},
		{MethodName: "GetBufferStats", Handler: structHandler("GetBufferStats", AnomalyServiceServer.GetBufferStats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "anomaly/v1/anomaly.proto",
}

type structMethod func(AnomalyServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(method string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + AnomalyServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnomalyServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnomalyServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AnomalyServiceClient calls anomaly.v1.AnomalyService.
type AnomalyServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAnomalyServiceClient wraps cc.
func NewAnomalyServiceClient(cc grpc.ClientConnInterface) *AnomalyServiceClient {
	return &AnomalyServiceClient{cc: cc}
}

func (c *AnomalyServiceClient) ListEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListEvents", in, opts...)
}

func (c *AnomalyServiceClient) ListGroups(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListGroups", in, opts...)
}

func (c *AnomalyServiceClient) GetGroup(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetGroup", in, opts...)
}

func (c *AnomalyServiceClient) GetSummary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSummary", in, opts...)
}

func (c *AnomalyServiceClient) GetBufferStats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetBufferStats", in, opts...)
}

func (c *AnomalyServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AnomalyServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
