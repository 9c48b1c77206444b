package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

type method func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)

// Method names of the service
const (
	MethodRegisterSchema   = "RegisterSchema"
	MethodGetSchema        = "GetSchema"
	MethodListPrefixes     = "ListPrefixes"
	MethodStoreDocument    = "StoreDocument"
	MethodGetDocument      = "GetDocument"
	MethodUpdateDocument   = "UpdateDocument"
	MethodGetSections      = "GetSections"
	MethodUpdateSection    = "UpdateSection"
	MethodValidateDocument = "ValidateDocument"
	MethodSearch           = "Search"
	MethodHealth           = "Health"
)

var methods = map[string]method{
	MethodRegisterSchema:   (*Server).RegisterSchema,
	MethodGetSchema:        (*Server).GetSchema,
	MethodListPrefixes:     (*Server).ListPrefixes,
	MethodStoreDocument:    (*Server).StoreDocument,
	MethodGetDocument:      (*Server).GetDocument,
	MethodUpdateDocument:   (*Server).UpdateDocument,
	MethodGetSections:      (*Server).GetSections,
	MethodUpdateSection:    (*Server).UpdateSection,
	MethodValidateDocument: (*Server).ValidateDocument,
	MethodSearch:           (*Server).Search,
	MethodHealth:           (*Server).Health,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "metastore/v1/metastore.proto",
}

func methodDescs() []grpc.MethodDesc {
	order := []string{
		MethodRegisterSchema, MethodGetSchema, MethodListPrefixes,
		MethodStoreDocument, MethodGetDocument, MethodUpdateDocument,
		MethodGetSections, MethodUpdateSection, MethodValidateDocument,
		MethodSearch, MethodHealth,
	}
	descs := make([]grpc.MethodDesc, 0, len(order))
	for _, name := range order {
		descs = append(descs, grpc.MethodDesc{MethodName: name, Handler: handler(name, methods[name])})
	}
	return descs
}

// handler adapts a Struct-to-Struct method to the generic gRPC unary handler
func handler(name string, m method) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(*Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return m(srv.(*Server), ctx, req.(*structpb.Struct))
		})
	}
}
