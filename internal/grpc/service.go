package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the subtitle service.
const ServiceName = "sublynk.v1.SubtitleService"

// Full method names.
const (
	MethodSearch          = "/" + ServiceName + "/Search"
	MethodAggregate       = "/" + ServiceName + "/Aggregate"
	MethodStreamAggregate = "/" + ServiceName + "/StreamAggregate"
	MethodLatest          = "/" + ServiceName + "/Latest"
	MethodTopRated        = "/" + ServiceName + "/TopRated"
)

// SubtitleServiceServer is the server API of the subtitle service. Messages
// are well-known Struct values shaped like the HTTP API's JSON.
type SubtitleServiceServer interface {
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Aggregate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamAggregate(*structpb.Struct, grpc.ServerStream) error
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	TopRated(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterSubtitleServiceServer registers srv on s.
func RegisterSubtitleServiceServer(s grpc.ServiceRegistrar, srv SubtitleServiceServer) {
	s.RegisterService(&SubtitleServiceDesc, srv)
}

func structHandler(method string, call func(SubtitleServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SubtitleServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SubtitleServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func emptyHandler(method string, call func(SubtitleServiceServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SubtitleServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SubtitleServiceServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamAggregateHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SubtitleServiceServer).StreamAggregate(in, stream)
}

// SubtitleServiceDesc describes the subtitle service for grpc.ServiceRegistrar.
var SubtitleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SubtitleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Search", Handler: structHandler(MethodSearch, SubtitleServiceServer.Search)},
		{MethodName: "Aggregate", Handler: structHandler(MethodAggregate, SubtitleServiceServer.Aggregate)},
		{MethodName: "Latest", Handler: emptyHandler(MethodLatest, SubtitleServiceServer.Latest)},
		{MethodName: "TopRated", Handler: emptyHandler(MethodTopRated, SubtitleServiceServer.TopRated)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAggregate", Handler: streamAggregateHandler, ServerStreams: true},
	},
	Metadata: "sublynk/v1/subtitles.proto",
}
