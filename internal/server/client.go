package server

import (
	"context"

	"github.com/juju/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/metastore"
)

// Client calls a remote MetaStore
type Client struct {
	conn *grpc.ClientConn
	own  bool
}

// Dial connects to addr without transport security
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", addr)
	}
	return &Client{conn: conn, own: true}, nil
}

// NewClient uses an existing connection, which the caller keeps ownership of
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection when the client opened it
func (c *Client) Close() error {
	if !c.own {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Annotate(err, "encode request")
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, kindError(err)
	}
	return out, nil
}

// kindError turns a gRPC status back into an error of the matching kind
func kindError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var kind error
	switch st.Code() {
	case codes.InvalidArgument:
		kind = metaerrors.InvalidDocument
	case codes.NotFound:
		kind = metaerrors.NotFound
	case codes.AlreadyExists:
		kind = metaerrors.Conflict
	case codes.Unavailable, codes.DeadlineExceeded:
		kind = metaerrors.Unavailable
	case codes.Unimplemented:
		kind = metaerrors.NotImplemented
	default:
		return errors.New(st.Message())
	}
	return errors.Annotate(kind, st.Message())
}

// RegisterSchema binds prefix to the schema's target namespace
func (c *Client) RegisterSchema(ctx context.Context, prefix, schema string) (namespace, outcome string, err error) {
	out, err := c.call(ctx, MethodRegisterSchema, map[string]any{FieldPrefix: prefix, FieldSchema: schema})
	if err != nil {
		return "", "", err
	}
	return str(out, FieldNamespace), str(out, FieldOutcome), nil
}

// GetSchema fetches the schema bound to prefix
func (c *Client) GetSchema(ctx context.Context, prefix string) (string, error) {
	out, err := c.call(ctx, MethodGetSchema, map[string]any{FieldPrefix: prefix})
	if err != nil {
		return "", err
	}
	return str(out, FieldSchema), nil
}

// ListPrefixes lists every bound prefix
func (c *Client) ListPrefixes(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, MethodListPrefixes, map[string]any{})
	if err != nil {
		return nil, err
	}
	return strs(out, FieldPrefixes), nil
}

// StoreDocument stores a composite document and returns its section count
func (c *Client) StoreDocument(ctx context.Context, xml, id string) (int, error) {
	out, err := c.call(ctx, MethodStoreDocument, map[string]any{FieldXML: xml, FieldDigitalObjectID: id})
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()[FieldSections].GetNumberValue()), nil
}

// GetDocument fetches a recomposed document
func (c *Client) GetDocument(ctx context.Context, id, format string) (string, error) {
	out, err := c.call(ctx, MethodGetDocument, map[string]any{FieldDigitalObjectID: id, FieldFormat: format})
	if err != nil {
		return "", err
	}
	return str(out, FieldResult), nil
}

// UpdateDocument replaces a stored document
func (c *Client) UpdateDocument(ctx context.Context, xml, id string) (metastore.UpdateResult, error) {
	out, err := c.call(ctx, MethodUpdateDocument, map[string]any{FieldXML: xml, FieldDigitalObjectID: id})
	if err != nil {
		return metastore.UpdateResult{}, err
	}
	f := out.GetFields()
	return metastore.UpdateResult{
		Created:   int(f[FieldCreated].GetNumberValue()),
		Updated:   int(f[FieldUpdated].GetNumberValue()),
		Unchanged: int(f[FieldUnchanged].GetNumberValue()),
	}, nil
}

// GetSections fetches the sections of a document, all of them when prefix is empty
func (c *Client) GetSections(ctx context.Context, prefix, id, format string) (string, error) {
	out, err := c.call(ctx, MethodGetSections, map[string]any{
		FieldPrefix: prefix, FieldDigitalObjectID: id, FieldFormat: format,
	})
	if err != nil {
		return "", err
	}
	return str(out, FieldResult), nil
}

// UpdateSection replaces one section and returns the size of its history
func (c *Client) UpdateSection(ctx context.Context, xml, id, sectionID string) (int, error) {
	out, err := c.call(ctx, MethodUpdateSection, map[string]any{
		FieldXML: xml, FieldDigitalObjectID: id, FieldSectionID: sectionID,
	})
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()[FieldHistory].GetNumberValue()), nil
}

// ValidateDocument validates a document against its registered schema
func (c *Client) ValidateDocument(ctx context.Context, xml string) error {
	_, err := c.call(ctx, MethodValidateDocument, map[string]any{FieldXML: xml})
	return err
}

// Search runs a term search and returns the rendered result
func (c *Client) Search(ctx context.Context, req metastore.SearchRequest) (string, error) {
	out, err := c.call(ctx, MethodSearch, map[string]any{
		FieldTerms:    list(req.Terms),
		FieldPrefixes: list(req.Prefixes),
		FieldAny:      req.Any,
		FieldMaxHits:  req.MaxHits,
		FieldShort:    req.Short,
		FieldFormat:   string(req.Format),
	})
	if err != nil {
		return "", err
	}
	return str(out, FieldResult), nil
}

// Health reports the server version when it is healthy
func (c *Client) Health(ctx context.Context) (string, error) {
	out, err := c.call(ctx, MethodHealth, map[string]any{})
	if err != nil {
		return "", err
	}
	return str(out, "version"), nil
}
