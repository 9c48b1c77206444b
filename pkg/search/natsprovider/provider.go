// Package natsprovider is a search.Provider that delegates indexing and
// searching to an external indexer reachable over NATS.
//
// Index publishes an IndexEvent on "<subject>.index" (through JetStream when
// enabled, so the provider learns whether the event was persisted). Search
// sends a SearchRequest to "<subject>.search" and waits for a SearchReply.
package natsprovider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/search"
)

// Config selects the server, the subject root and the delivery mode.
type Config struct {
	URL       string
	Subject   string
	JetStream bool
	Timeout   time.Duration
}

// IndexEvent carries one section projection to the indexer.
type IndexEvent struct {
	DocumentID string          `json:"documentId"`
	Prefix     string          `json:"prefix"`
	Document   json.RawMessage `json:"document"`
}

// SearchRequest is the body of a search request.
type SearchRequest struct {
	Terms    []string `json:"terms"`
	Prefixes []string `json:"prefixes,omitempty"`
	Any      bool     `json:"any,omitempty"`
	MaxHits  int      `json:"maxHits,omitempty"`
}

// SearchReply is the indexer's answer to a SearchRequest.
type SearchReply struct {
	IDs   []string `json:"ids"`
	Error string   `json:"error,omitempty"`
}

// Provider talks to the indexer through a NATS connection it owns.
type Provider struct {
	cfg    Config
	nc     *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

var _ search.Provider = (*Provider)(nil)

// Connect dials cfg.URL.
func Connect(cfg Config, logger zerolog.Logger) (*Provider, error) {
	if cfg.Subject == "" {
		cfg.Subject = "metastore"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("metastore"), nats.Timeout(cfg.Timeout))
	if err != nil {
		return nil, errors.Annotatef(metaerrors.Unavailable, "connect nats: %v", err)
	}
	p := &Provider{cfg: cfg, nc: nc, logger: logger.With().Str("component", "nats-search").Logger()}
	if cfg.JetStream {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, errors.Annotate(err, "jetstream context")
		}
		p.js = js
	}
	return p, nil
}

// IndexSubject is the subject index events are published on.
func (p *Provider) IndexSubject() string { return p.cfg.Subject + ".index" }

// SearchSubject is the subject search requests are sent to.
func (p *Provider) SearchSubject() string { return p.cfg.Subject + ".search" }

func (p *Provider) Index(ctx context.Context, jsonDoc, documentID, prefix string) (bool, error) {
	if !json.Valid([]byte(jsonDoc)) {
		return false, errors.Annotate(metaerrors.InvalidDocument, "projection is not valid json")
	}
	data, err := json.Marshal(IndexEvent{DocumentID: documentID, Prefix: prefix, Document: json.RawMessage(jsonDoc)})
	if err != nil {
		return false, errors.Annotate(err, "encode index event")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if p.js != nil {
		ack, err := p.js.Publish(ctx, p.IndexSubject(), data)
		if err != nil {
			return false, errors.Annotatef(metaerrors.Unavailable, "publish index event: %v", err)
		}
		p.logger.Debug().Str("id", documentID).Str("stream", ack.Stream).Uint64("seq", ack.Sequence).Msg("index event persisted")
		return true, nil
	}

	if err := p.nc.Publish(p.IndexSubject(), data); err != nil {
		return false, errors.Annotatef(metaerrors.Unavailable, "publish index event: %v", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return false, errors.Annotatef(metaerrors.Unavailable, "flush index event: %v", err)
	}
	return true, nil
}

func (p *Provider) Search(ctx context.Context, q search.Query) ([]string, error) {
	terms := search.Terms(q.Terms...)
	if len(terms) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(SearchRequest{Terms: terms, Prefixes: q.Prefixes, Any: q.Any, MaxHits: q.MaxHits})
	if err != nil {
		return nil, errors.Annotate(err, "encode search request")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	msg, err := p.nc.RequestWithContext(ctx, p.SearchSubject(), data)
	if err != nil {
		return nil, errors.Annotatef(metaerrors.Unavailable, "search request: %v", err)
	}

	var reply SearchReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, errors.Annotate(err, "decode search reply")
	}
	if reply.Error != "" {
		return nil, errors.Errorf("indexer: %s", reply.Error)
	}
	ids := reply.IDs
	if q.MaxHits > 0 && len(ids) > q.MaxHits {
		ids = ids[:q.MaxHits]
	}
	return ids, nil
}

// Close drains the connection.
func (p *Provider) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return errors.Annotate(err, "drain nats connection")
	}
	return nil
}
