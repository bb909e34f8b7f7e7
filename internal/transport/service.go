// Package transport exposes the session engine over gRPC. Messages are
// google.protobuf.Struct values carrying the camelCase display forms, so
// the service needs no generated code.
package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
const ServiceName = "photoretrieval.v1.RetrievalService"

const (
	MethodCreateSession = "CreateSession"
	MethodStartSession  = "StartSession"
	MethodSubmitAnswer  = "SubmitAnswer"
	MethodAbortSession  = "AbortSession"
	MethodGetSession    = "GetSession"
	MethodGetHistory    = "GetHistory"
)

// RetrievalServer is the server API of the retrieval service.
type RetrievalServer interface {
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitAnswer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AbortSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(RetrievalServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RetrievalServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(RetrievalServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes RetrievalService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RetrievalServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateSession, RetrievalServer.CreateSession),
		unary(MethodStartSession, RetrievalServer.StartSession),
		unary(MethodSubmitAnswer, RetrievalServer.SubmitAnswer),
		unary(MethodAbortSession, RetrievalServer.AbortSession),
		unary(MethodGetSession, RetrievalServer.GetSession),
		unary(MethodGetHistory, RetrievalServer.GetHistory),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "photoretrieval/v1/retrieval.proto",
}

// Register adds srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv RetrievalServer) {
	s.RegisterService(&ServiceDesc, srv)
}
// #endregion service-desc
