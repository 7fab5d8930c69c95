package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiresql/internal/catalog"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/query"
	"github.com/tarungka/wiresql/internal/serde"
)

// idleSubscriber serves topics that never yield a record.
type idleSubscriber struct{}

func (idleSubscriber) Subscribe(ctx context.Context, _ string, _ serde.Decoder) (<-chan models.KeyedRecord, error) {
	ch := make(chan models.KeyedRecord)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func setupServer(t *testing.T) (*httptest.Server, *query.Registry) {
	t.Helper()
	cat := catalog.New()
	_, err := cat.Add(catalog.EntryConfig{
		Name:   "orders",
		Key:    "id",
		Fields: []catalog.FieldConfig{{Name: "id", Type: "INTEGER"}, {Name: "item", Type: "VARCHAR"}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	registry := query.NewRegistry(cat, idleSubscriber{}, nil)
	ts := httptest.NewServer(New(ctx, ":0", registry, cat).Router())
	t.Cleanup(func() {
		ts.Close()
		registry.Close()
		cancel()
	})
	return ts, registry
}

func decode(t *testing.T, resp *http.Response) ResponseModel {
	t.Helper()
	defer resp.Body.Close()
	var out ResponseModel
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := setupServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	ts, _ := setupServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wiresql_queries_running")
}

func TestCatalog(t *testing.T) {
	ts, _ := setupServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/catalog", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	require.True(t, out.Success)
	entries := out.Data.([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "orders", entries[0].(map[string]any)["name"])

	resp = do(t, http.MethodGet, ts.URL+"/catalog/ORDERS", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "JSON", decode(t, resp).Data.(map[string]any)["format"])

	resp = do(t, http.MethodGet, ts.URL+"/catalog/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, decode(t, resp).Success)
}

func TestQueries_Lifecycle(t *testing.T) {
	ts, registry := setupServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/queries", `{"id": "big", "from": "orders", "where": {"op": ">", "args": ["id", 5]}}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	started := decode(t, resp).Data.(map[string]any)
	assert.Equal(t, "big", started["id"])
	assert.Contains(t, started["plan"], "FILTER (id > 5)")

	resp = do(t, http.MethodPost, ts.URL+"/queries", `{"id": "BIG", "from": "orders"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, ts.URL+"/queries", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode(t, resp).Data.([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "RUNNING", list[0].(map[string]any)["state"])

	resp = do(t, http.MethodGet, ts.URL+"/queries/big", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodDelete, ts.URL+"/queries/big", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Empty(t, registry.List())

	resp = do(t, http.MethodDelete, ts.URL+"/queries/big", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestQueries_StartErrors(t *testing.T) {
	ts, _ := setupServer(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown source", `{"from": "nope"}`, http.StatusNotFound},
		{"predicate is not boolean", `{"from": "orders", "where": "item"}`, http.StatusBadRequest},
		{"missing source", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+"/queries", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.False(t, decode(t, resp).Success)
		})
	}
}
