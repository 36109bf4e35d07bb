// Package opensearch indexes worker lifecycle events into an OpenSearch
// (or Elasticsearch) index over its REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/webvisor/internal/history"
)

const DefaultIndex = "worker-history"

// Options configures the sink. BaseURL is the cluster root, for example
// "https://search:9200".
type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
	Client   *http.Client
}

// Sink writes one document per event and can read the newest ones back.
type Sink struct {
	opts   Options
	client *http.Client
}

var (
	_ history.Sink    = (*Sink)(nil)
	_ history.Querier = (*Sink)(nil)
)

func New(opts Options) *Sink {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	c := opts.Client
	if c == nil {
		c = &http.Client{Timeout: opts.Timeout}
	}
	return &Sink{opts: opts, client: c}
}

// Index returns the target index name.
func (s *Sink) Index() string { return s.opts.Index }

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.do(ctx, http.MethodPost, "/_doc", e)
	return err
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source history.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Recent returns the newest events, optionally for a single app. It relies
// on the default dynamic mapping, which adds a keyword sub-field to
// record.app.
func (s *Sink) Recent(ctx context.Context, app string, limit int) ([]history.Event, error) {
	query := map[string]any{"match_all": map[string]any{}}
	if app != "" {
		query = map[string]any{"term": map[string]any{"record.app.keyword": app}}
	}
	body := map[string]any{
		"size":  history.NormalizeLimit(limit),
		"sort":  []any{map[string]any{"occurred_at": map[string]string{"order": "desc"}}},
		"query": query,
	}
	raw, err := s.do(ctx, http.MethodPost, "/_search", body)
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode opensearch search response: %w", err)
	}
	out := make([]history.Event, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (s *Sink) do(ctx context.Context, method, suffix string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	u := s.opts.BaseURL + "/" + s.opts.Index + suffix
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opensearch %s %s: %w", method, suffix, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("opensearch %s returned status %d: %s", suffix, resp.StatusCode, msg)
	}
	return raw, nil
}
