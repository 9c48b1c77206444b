// Package elastic is a search.Provider speaking the Elasticsearch REST API.
//
// Section projections are indexed as documents with id "<objectId>_<prefix>".
// Searches match every term as a regular expression over all fields and
// page through at most MaxResults hits.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/search"
)

const (
	// PageSize is the number of hits requested per search page.
	PageSize = 1000
	// MaxResults caps the hits read for one search.
	MaxResults = 10000

	fieldID     = "metastore_id"
	fieldPrefix = "metastore_prefix"
)

// Config locates the cluster and the index holding section projections.
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

// Provider indexes and searches section projections in Elasticsearch.
type Provider struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	logger zerolog.Logger
}

var _ search.Provider = (*Provider)(nil)

// New validates cfg and returns a provider. No request is made.
func New(cfg Config, logger zerolog.Logger) (*Provider, error) {
	if cfg.URL == "" || cfg.Index == "" {
		return nil, errors.New("elasticsearch url and index are required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, errors.Annotate(err, "parse elasticsearch url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "elasticsearch").Logger(),
	}, nil
}

// Index stores jsonDoc under "<documentID>_<prefix>", adding the object id
// and prefix as fields so searches can filter by prefix.
func (p *Provider) Index(ctx context.Context, jsonDoc, documentID, prefix string) (bool, error) {
	var source map[string]any
	if err := json.Unmarshal([]byte(jsonDoc), &source); err != nil {
		return false, errors.Annotatef(metaerrors.InvalidDocument, "projection is not a json object: %v", err)
	}
	source[fieldID] = documentID
	source[fieldPrefix] = prefix
	body, err := json.Marshal(source)
	if err != nil {
		return false, errors.Annotate(err, "encode projection")
	}

	path := fmt.Sprintf("/%s/_doc/%s", url.PathEscape(p.cfg.Index), url.PathEscape(search.DocumentID(documentID, prefix)))
	status, _, err := p.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return false, err
	}
	p.logger.Debug().Str("id", documentID).Str("prefix", prefix).Int("status", status).Msg("document indexed")
	return status == http.StatusOK || status == http.StatusCreated, nil
}

// Search returns the distinct object ids of matching sections.
func (p *Provider) Search(ctx context.Context, q search.Query) ([]string, error) {
	terms := search.Terms(q.Terms...)
	if len(terms) == 0 {
		return nil, nil
	}
	limit := MaxResults
	if q.MaxHits > 0 && q.MaxHits < limit {
		limit = q.MaxHits
	}

	var (
		ids  []string
		seen = make(map[string]struct{})
		path = fmt.Sprintf("/%s/_search", url.PathEscape(p.cfg.Index))
	)
	for page := 0; ; page++ {
		body, err := json.Marshal(buildQuery(terms, q, page))
		if err != nil {
			return nil, errors.Annotate(err, "encode query")
		}
		_, raw, err := p.do(ctx, http.MethodPost, path, body)
		if err != nil {
			return nil, err
		}
		var resp searchResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, errors.Annotate(err, "decode search response")
		}

		for _, hit := range resp.Hits.Hits {
			id := search.SplitDocumentID(hit.ID)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			if len(ids) >= limit {
				return ids, nil
			}
		}

		total := resp.Hits.total()
		if total > MaxResults {
			total = MaxResults
		}
		if len(resp.Hits.Hits) == 0 || total <= (page+1)*PageSize {
			return ids, nil
		}
	}
}

func buildQuery(terms []string, q search.Query, page int) map[string]any {
	should := make([]any, 0, len(terms))
	for _, t := range terms {
		should = append(should, map[string]any{
			"query_string": map[string]any{
				"query":         "/.*" + t + ".*/",
				"default_field": "*",
			},
		})
	}
	minimum := 1
	if !q.Any {
		minimum = len(terms)
	}
	boolQuery := map[string]any{
		"should":               should,
		"minimum_should_match": minimum,
	}
	if len(q.Prefixes) > 0 {
		boolQuery["filter"] = []any{
			map[string]any{"terms": map[string]any{fieldPrefix + ".keyword": q.Prefixes}},
		}
	}
	return map[string]any{
		"from":    page * PageSize,
		"size":    PageSize,
		"_source": false,
		"query":   map[string]any{"bool": boolQuery},
	}
}

type searchResponse struct {
	Hits hits `json:"hits"`
}

type hits struct {
	Total json.RawMessage `json:"total"`
	Hits  []hit           `json:"hits"`
}

type hit struct {
	ID string `json:"_id"`
}

// total reads hits.total in both the numeric and the {"value": n} form.
func (h hits) total() int {
	var n int
	if err := json.Unmarshal(h.Total, &n); err == nil {
		return n
	}
	var obj struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(h.Total, &obj); err == nil {
		return obj.Value
	}
	return 0
}

func (p *Provider) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	// path segments are escaped by the callers
	req, err := http.NewRequestWithContext(ctx, method, p.base.String()+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, errors.Annotate(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Username != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, errors.Annotatef(metaerrors.Unavailable, "elasticsearch %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Annotatef(metaerrors.Unavailable, "read elasticsearch response: %v", err)
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, raw, errors.Errorf("elasticsearch %s %s: status %d: %s", method, path, resp.StatusCode, truncate(raw, 256))
	}
	return resp.StatusCode, raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
