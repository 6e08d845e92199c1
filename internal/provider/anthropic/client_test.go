// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/catalog-enricher/internal/httputil"
	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

func TestMain(m *testing.M) {
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := NewClient(types.AIConfig{
		APIKey:     "test-key",
		Model:      "test-model",
		MaxTokens:  256,
		MaxRetries: 2,
		BaseURL:    ts.URL,
	})
	require.NoError(t, err)
	return c
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messageResponse{Content: []contentBlock{{Type: "text", Text: text}}})
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(types.AIConfig{})
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req messageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 256, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[0].Content)

		writeText(w, "world")
	})

	text, err := c.Complete(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "world", text)
}

func TestCompleteRetriesOverload(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(httputil.StatusOverloaded)
			return
		}
		writeText(w, "ok")
	})

	text, err := c.Complete(t.Context(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited after retries", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"type":"error","error":{"type":"some_error","message":"nope"}}`)
			})
			_, err := c.Complete(t.Context(), "hi")
			require.Error(t, err)
			assert.Equal(t, tt.transient, provider.IsTransient(err))
			assert.Equal(t, !tt.transient, provider.IsFatal(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestCompleteMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	})
	_, err := c.Complete(t.Context(), "hi")
	assert.True(t, provider.IsFatal(err))
}

func TestBatchLifecycle(t *testing.T) {
	var submitted createBatchRequest
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/messages/batches":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			fmt.Fprint(w, `{"id":"msgbatch_1","processing_status":"in_progress","request_counts":{"processing":3}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/messages/batches/msgbatch_1":
			fmt.Fprintf(w, `{"id":"msgbatch_1","processing_status":"ended","request_counts":{"succeeded":2,"errored":1},"results_url":"%s/results/msgbatch_1"}`, ts.URL)
		case r.URL.Path == "/results/msgbatch_1":
			lines := []string{
				`{"custom_id":"rewrite-p-0002","result":{"type":"succeeded","message":{"content":[{"type":"text","text":"<p>New copy</p>"}]}}}`,
				`{"custom_id":"classify-p-0001","result":{"type":"succeeded","message":{"content":[{"type":"text","text":"{\"department\":\"Pet Supplies\",\"category\":\"Dogs\",\"purchase_options\":[1]}"}]}}}`,
				`{"custom_id":"classify-p-0003","result":{"type":"errored","error":{"type":"error","error":{"type":"overloaded_error","message":"busy"}}}}`,
			}
			io.WriteString(w, strings.Join(lines, "\n")+"\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c, err := NewClient(types.AIConfig{APIKey: "k", Model: "m", MaxTokens: 64, BaseURL: ts.URL})
	require.NoError(t, err)

	cls := types.Classification{Department: "Pet Supplies", Category: "Dogs"}
	id, err := c.Submit(t.Context(), []provider.BatchRequest{
		{CustomID: "p-0001", Kind: provider.KindClassify, Product: &types.Product{Title: "Kibble"}},
		{CustomID: "p-0002", Kind: provider.KindRewrite, Product: &types.Product{Title: "Leash"}, Classification: &cls},
		{CustomID: "p-0003", Kind: provider.KindClassify, Product: &types.Product{Title: "Bowl"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msgbatch_1", id)
	require.Len(t, submitted.Requests, 3)
	assert.Equal(t, "classify-p-0001", submitted.Requests[0].CustomID)
	assert.Equal(t, "m", submitted.Requests[0].Params.Model)
	assert.Contains(t, submitted.Requests[1].Params.Messages[0].Content, "Leash")

	st, err := c.Poll(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, provider.BatchEnded, st.State)
	assert.Equal(t, 2, st.Succeeded)
	assert.Equal(t, 1, st.Errored)

	results, err := c.Fetch(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[string]provider.BatchResult{}
	for _, r := range results {
		byID[r.CustomID] = r
	}
	require.NotNil(t, byID["p-0001"].Classification)
	assert.Equal(t, "Dogs", byID["p-0001"].Classification.Category)
	assert.Equal(t, "<p>New copy</p>", byID["p-0002"].Text)
	assert.True(t, provider.IsTransient(byID["p-0003"].Err))
}

func TestSubmitEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Submit(t.Context(), nil)
	assert.Error(t, err)
}

func TestPollInProgress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"b","processing_status":"in_progress","request_counts":{"processing":4,"succeeded":1}}`)
	})
	st, err := c.Poll(t.Context(), "b")
	require.NoError(t, err)
	assert.Equal(t, provider.BatchInProgress, st.State)
	assert.Equal(t, 4, st.Pending)

	_, err = c.Fetch(t.Context(), "b")
	assert.True(t, provider.IsTransient(err))
}

func TestDecodeResult(t *testing.T) {
	var rl batchResultLine
	require.NoError(t, json.Unmarshal([]byte(`{"custom_id":"classify-x","result":{"type":"errored","error":{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}}}`), &rl))
	assert.True(t, provider.IsFatal(decodeResult(rl).Err))

	require.NoError(t, json.Unmarshal([]byte(`{"custom_id":"classify-x","result":{"type":"expired"}}`), &rl))
	assert.True(t, provider.IsTransient(decodeResult(rl).Err))

	rl = batchResultLine{CustomID: "taxonomy-1"}
	assert.True(t, provider.IsFatal(decodeResult(rl).Err))
}
