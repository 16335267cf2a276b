package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutURLIsNop(t *testing.T) {
	idx := New("  ", time.Second)
	_, ok := idx.(Nop)
	require.True(t, ok)

	ids, err := idx.SearchMessages(context.Background(), "hello", 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClientRoundTrip(t *testing.T) {
	var added addMessageRequest
	var sentences addSentencesRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&added))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/sentences", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sentences))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/messages/query", func(w http.ResponseWriter, r *http.Request) {
		var q queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "budget", q.Query)
		assert.Equal(t, 20, q.TopK)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageQueryResponse{IDs: []string{"m2", "m1"}})
	})
	mux.HandleFunc("/sentences/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sentenceQueryResponse{Hits: []Hit{
			{MessageID: "d1", Sentence: "the budget grew"},
			{MessageID: "d1", Sentence: "second sentence"},
			{MessageID: "d2", Sentence: "budget cuts"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	idx := New(srv.URL+"/", time.Second)

	require.NoError(t, idx.AddMessage(ctx, "m1", "quarterly budget"))
	assert.Equal(t, addMessageRequest{ID: "m1", Text: "quarterly budget"}, added)

	require.NoError(t, idx.AddSentences(ctx, "d1", []string{"a long enough sentence"}))
	assert.Equal(t, "d1", sentences.MessageID)

	ids, err := idx.SearchMessages(ctx, "budget", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, ids)

	hits, err := idx.SearchSentences(ctx, "budget", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "the budget grew", hits[0].Sentence)
	assert.Equal(t, "d2", hits[1].MessageID)
}

func TestClientSkipsBlankText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()

	idx := New(srv.URL, time.Second)
	require.NoError(t, idx.AddMessage(context.Background(), "m1", "   "))
	require.NoError(t, idx.AddSentences(context.Background(), "m1", nil))
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).SearchMessages(context.Background(), "x", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
