// Package vectorstore talks to an external embedding index over HTTP.
// The index holds message-level vectors and sentence-level vectors for documents.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Hit is a sentence-level match.
type Hit struct {
	MessageID string  `json:"message_id"`
	Sentence  string  `json:"sentence"`
	Score     float64 `json:"score,omitempty"`
}

// Index is the semantic index used by the message service.
type Index interface {
	AddMessage(ctx context.Context, messageID, text string) error
	AddSentences(ctx context.Context, messageID string, sentences []string) error
	SearchMessages(ctx context.Context, query string, topK int) ([]string, error)
	SearchSentences(ctx context.Context, query string, topK int) ([]Hit, error)
}

// New returns an HTTP client for baseURL, or a no-op index when baseURL is empty.
func New(baseURL string, timeout time.Duration) Index {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return Nop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Client is the HTTP implementation of Index.
type Client struct {
	http *resty.Client
}

type addMessageRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type addSentencesRequest struct {
	MessageID string   `json:"message_id"`
	Sentences []string `json:"sentences"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type messageQueryResponse struct {
	IDs []string `json:"ids"`
}

type sentenceQueryResponse struct {
	Hits []Hit `json:"hits"`
}

// AddMessage embeds text under messageID. Blank text is ignored.
func (c *Client) AddMessage(ctx context.Context, messageID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(addMessageRequest{ID: messageID, Text: text}).
		Post("/messages")
	return check("add message", resp, err)
}

// AddSentences embeds each sentence of a document message.
func (c *Client) AddSentences(ctx context.Context, messageID string, sentences []string) error {
	if len(sentences) == 0 {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(addSentencesRequest{MessageID: messageID, Sentences: sentences}).
		Post("/sentences")
	return check("add sentences", resp, err)
}

// SearchMessages returns the ids of the messages closest to query, best first.
func (c *Client) SearchMessages(ctx context.Context, query string, topK int) ([]string, error) {
	var out messageQueryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(queryRequest{Query: query, TopK: topK}).
		SetResult(&out).
		Post("/messages/query")
	if err := check("search messages", resp, err); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

// SearchSentences returns at most one sentence per message, best first.
func (c *Client) SearchSentences(ctx context.Context, query string, topK int) ([]Hit, error) {
	var out sentenceQueryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(queryRequest{Query: query, TopK: topK}).
		SetResult(&out).
		Post("/sentences/query")
	if err := check("search sentences", resp, err); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(out.Hits))
	hits := make([]Hit, 0, len(out.Hits))
	for _, h := range out.Hits {
		if _, ok := seen[h.MessageID]; ok || h.MessageID == "" {
			continue
		}
		seen[h.MessageID] = struct{}{}
		hits = append(hits, h)
		if topK > 0 && len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("vectorstore %s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("vectorstore %s: status %d", op, resp.StatusCode())
	}
	return nil
}

// Nop is an Index that stores nothing and finds nothing.
type Nop struct{}

func (Nop) AddMessage(context.Context, string, string) error     { return nil }
func (Nop) AddSentences(context.Context, string, []string) error { return nil }

func (Nop) SearchMessages(context.Context, string, int) ([]string, error) { return nil, nil }
func (Nop) SearchSentences(context.Context, string, int) ([]Hit, error)   { return nil, nil }
