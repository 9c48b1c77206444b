// Package server exposes the MetaStore over gRPC
//
// The service is described by hand: every method takes and returns a
// google.protobuf.Struct, so no generated code is needed on either side.
package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/metastore"
	"github.com/nainya/metastore/pkg/mets"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "metastore.v1.MetaStore"

// Request and response field names
const (
	FieldXML             = "xml"
	FieldDigitalObjectID = "digitalObjectId"
	FieldSectionID       = "sectionId"
	FieldPrefix          = "prefix"
	FieldPrefixes        = "prefixes"
	FieldSchema          = "schema"
	FieldNamespace       = "namespace"
	FieldOutcome         = "outcome"
	FieldFormat          = "format"
	FieldResult          = "result"
	FieldTerms           = "terms"
	FieldAny             = "any"
	FieldMaxHits         = "maxHits"
	FieldShort           = "short"
	FieldSections        = "sections"
	FieldType            = "type"
	FieldHistory         = "history"
	FieldCreated         = "created"
	FieldUpdated         = "updated"
	FieldUnchanged       = "unchanged"
	FieldValid           = "valid"
)

// Server implements the MetaStore gRPC service
type Server struct {
	svc       *metastore.Service
	version   string
	startTime time.Time
}

// NewServer creates a gRPC service over svc
func NewServer(svc *metastore.Service, version string) *Server {
	return &Server{svc: svc, version: version, startTime: time.Now()}
}

// Register attaches the service to a gRPC server
func (s *Server) Register(g grpc.ServiceRegistrar) {
	g.RegisterService(&serviceDesc, s)
}

// ========== Schema Operations ==========

func (s *Server) RegisterSchema(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	prefix, err := required(req, FieldPrefix)
	if err != nil {
		return nil, err
	}
	body, err := required(req, FieldSchema)
	if err != nil {
		return nil, err
	}
	ns, outcome, err := s.svc.RegisterSchema(ctx, prefix, body)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldNamespace: ns, FieldOutcome: outcome.String()})
}

func (s *Server) GetSchema(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	prefix, err := required(req, FieldPrefix)
	if err != nil {
		return nil, err
	}
	body, err := s.svc.GetSchema(ctx, prefix)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldSchema: body})
}

func (s *Server) ListPrefixes(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	prefixes, err := s.svc.ListPrefixes(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldPrefixes: list(prefixes)})
}

// ========== Document Operations ==========

func (s *Server) StoreDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	xml, err := required(req, FieldXML)
	if err != nil {
		return nil, err
	}
	id, err := required(req, FieldDigitalObjectID)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.StoreDocument(ctx, xml, id)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldDigitalObjectID: res.DigitalObjectID, FieldSections: res.Sections})
}

func (s *Server) GetDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, FieldDigitalObjectID)
	if err != nil {
		return nil, err
	}
	format, err := formatOf(req)
	if err != nil {
		return nil, err
	}
	doc, err := s.svc.GetDocument(ctx, id, format)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldResult: doc})
}

func (s *Server) UpdateDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	xml, err := required(req, FieldXML)
	if err != nil {
		return nil, err
	}
	id, err := required(req, FieldDigitalObjectID)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.UpdateDocument(ctx, xml, id)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{
		FieldCreated:   res.Created,
		FieldUpdated:   res.Updated,
		FieldUnchanged: res.Unchanged,
	})
}

func (s *Server) GetSections(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, FieldDigitalObjectID)
	if err != nil {
		return nil, err
	}
	format, err := formatOf(req)
	if err != nil {
		return nil, err
	}
	out, err := s.svc.GetSections(ctx, str(req, FieldPrefix), id, format)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldResult: out})
}

func (s *Server) UpdateSection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	xml, err := required(req, FieldXML)
	if err != nil {
		return nil, err
	}
	id, err := required(req, FieldDigitalObjectID)
	if err != nil {
		return nil, err
	}
	sec, err := s.svc.UpdateSection(ctx, xml, id, str(req, FieldSectionID))
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{
		FieldSectionID: sec.SectionID,
		FieldType:      sec.Type,
		FieldHistory:   len(sec.History),
	})
}

func (s *Server) ValidateDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	xml, err := required(req, FieldXML)
	if err != nil {
		return nil, err
	}
	if err := s.svc.ValidateDocument(ctx, xml); err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldValid: true})
}

func (s *Server) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	format, err := formatOf(req)
	if err != nil {
		return nil, err
	}
	out, err := s.svc.Search(ctx, metastore.SearchRequest{
		Terms:    strs(req, FieldTerms),
		Prefixes: strs(req, FieldPrefixes),
		Any:      req.GetFields()[FieldAny].GetBoolValue(),
		MaxHits:  int(req.GetFields()[FieldMaxHits].GetNumberValue()),
		Short:    req.GetFields()[FieldShort].GetBoolValue(),
		Format:   format,
	})
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{FieldResult: out})
}

// ========== Health ==========

func (s *Server) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return reply(map[string]any{
		"healthy":       true,
		"version":       s.version,
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// statusError maps an error kind to a gRPC status
func statusError(err error) error {
	code := codes.Internal
	switch metaerrors.Kind(err) {
	case metaerrors.InvalidDocument, metaerrors.NamespaceMismatch, metaerrors.SchemaViolation:
		code = codes.InvalidArgument
	case metaerrors.NotFound:
		code = codes.NotFound
	case metaerrors.Conflict:
		code = codes.AlreadyExists
	case metaerrors.Unavailable:
		code = codes.Unavailable
	case metaerrors.NotImplemented:
		code = codes.Unimplemented
	}
	return status.Error(code, err.Error())
}

func str(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func strs(req *structpb.Struct, name string) []string {
	var out []string
	for _, v := range req.GetFields()[name].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func required(req *structpb.Struct, name string) (string, error) {
	v := str(req, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

func formatOf(req *structpb.Struct) (mets.Format, error) {
	f, err := mets.ParseFormat(str(req, FieldFormat))
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return f, nil
}

func list(items []string) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}
