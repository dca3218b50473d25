// Package chromadb stores memory vectors in a Chroma server over its REST API.
// Each namespace maps to one collection unless a single collection is configured.
package chromadb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/adapters/vectorstore"
)

const defaultBaseURL = "http://localhost:8000"

// Store is a Chroma-backed vectorstore.VectorStore.
type Store struct {
	baseURL    *url.URL
	single     string
	autoCreate bool
	http       *http.Client

	mu  sync.RWMutex
	ids map[string]string // collection name -> id
}

var _ vectorstore.VectorStore = (*Store)(nil)

func init() { _ = vectorstore.Register("chromadb", Factory) }

// Factory builds the store. cfg keys: base_url, collection, create_if_missing.
func Factory(_ context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	return New(llm.StringOpt(cfg, "base_url", defaultBaseURL), llm.StringOpt(cfg, "collection", ""), boolOpt(cfg, "create_if_missing", true), nil)
}

// New returns a Store. A nil client gets an otelhttp-instrumented one.
func New(baseURL, collection string, createIfMissing bool, client *http.Client) (*Store, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("chromadb: invalid base_url %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Store{baseURL: u, single: collection, autoCreate: createIfMissing, http: client, ids: map[string]string{}}, nil
}

func boolOpt(cfg map[string]any, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

func (s *Store) Upsert(ctx context.Context, items []vectorstore.Item) error {
	groups := map[string][]vectorstore.Item{}
	for _, it := range items {
		name := s.collection(it.Namespace)
		groups[name] = append(groups[name], it)
	}
	for name, batch := range groups {
		id, err := s.ensureCollection(ctx, name)
		if err != nil {
			return err
		}
		req := upsertRequest{
			IDs:        make([]string, 0, len(batch)),
			Embeddings: make([][]float32, 0, len(batch)),
			Metadatas:  make([]map[string]any, 0, len(batch)),
		}
		for _, it := range batch {
			md := it.Metadata
			if md == nil {
				md = map[string]any{}
			}
			req.IDs = append(req.IDs, it.ID)
			req.Embeddings = append(req.Embeddings, it.Vector)
			req.Metadatas = append(req.Metadatas, md)
		}
		if err := s.post(ctx, path.Join("/api/v1/collections", id, "upsert"), req, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := s.ensureCollection(ctx, s.collection(namespace))
	if err != nil {
		return err
	}
	return s.post(ctx, path.Join("/api/v1/collections", id, "delete"), deleteRequest{IDs: ids}, nil)
}

// Query converts Chroma's cosine distance back into a similarity score.
func (s *Store) Query(ctx context.Context, query vectorstore.Vector, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	id, err := s.ensureCollection(ctx, s.collection(filter.Namespace))
	if err != nil {
		return nil, err
	}
	req := queryRequest{
		QueryEmbeddings: [][]float32{query},
		NResults:        k,
		Include:         []string{"distances", "metadatas"},
	}
	if len(filter.Equals) > 0 {
		req.Where = where(filter.Equals)
	}
	var resp queryResponse
	if err := s.post(ctx, path.Join("/api/v1/collections", id, "query"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	ns := vectorstore.NamespaceOf(filter.Namespace)
	out := make([]vectorstore.Match, 0, len(resp.IDs[0]))
	for i, mid := range resp.IDs[0] {
		m := vectorstore.Match{Item: vectorstore.Item{ID: mid, Namespace: ns}}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Item.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Score = 1 - resp.Distances[0][i]
		}
		out = append(out, m)
	}
	return out, nil
}

// where builds a Chroma filter. More than one key needs an explicit $and.
func where(eq map[string]any) map[string]any {
	if len(eq) == 1 {
		return eq
	}
	var and []map[string]any
	for k, v := range eq {
		and = append(and, map[string]any{k: v})
	}
	return map[string]any{"$and": and}
}

func (s *Store) collection(namespace string) string {
	if s.single != "" {
		return s.single
	}
	return vectorstore.NamespaceOf(namespace)
}

func (s *Store) ensureCollection(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	id, ok := s.ids[name]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	var c collection
	err := s.get(ctx, "/api/v1/collections/"+url.PathEscape(name), &c)
	if err != nil {
		if !s.autoCreate {
			return "", fmt.Errorf("chromadb: collection %q: %w", name, err)
		}
		req := createCollectionRequest{Name: name, GetOrCreate: true, Metadata: map[string]any{"hnsw:space": "cosine"}}
		if err := s.post(ctx, "/api/v1/collections", req, &c); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	s.ids[name] = c.ID
	s.mu.Unlock()
	return c.ID, nil
}

func (s *Store) endpoint(p string) string {
	u := *s.baseURL
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (s *Store) get(ctx context.Context, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(p), nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *Store) post(ctx context.Context, p string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(p), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *Store) do(req *http.Request, out any) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("chromadb: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.StatusError("chromadb", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createCollectionRequest struct {
	Name        string         `json:"name"`
	GetOrCreate bool           `json:"get_or_create"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type queryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include,omitempty"`
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float32        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}
