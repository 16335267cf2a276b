package messages

import (
	"context"
	"fmt"
	"strings"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/search"
	"github.com/vovakirdan/voicechat/internal/store"
)

const (
	keywordLimit  = 30
	semanticTopK  = 20
	sentenceTopK  = 10
	snippetWindow = 80

	keywordScore  = 1.0
	semanticScore = 0.8
	sentenceScore = 0.75
)

// Search runs keyword, semantic and document-sentence search over the caller's rooms.
// Keyword hits come first, newest first; each message appears at most once.
func (s *Service) Search(ctx context.Context, userID, query, roomID string) (proto.SearchResponse, error) {
	resp := proto.SearchResponse{Query: query, Results: []proto.SearchResult{}}
	q := strings.TrimSpace(query)
	if q == "" {
		return resp, nil
	}

	keyword, err := s.store.SearchMessages(ctx, userID, q, roomID, keywordLimit)
	if err != nil {
		return resp, fmt.Errorf("keyword search: %w", err)
	}

	semantic := s.semanticMessages(ctx, userID, q, roomID)
	sentences, best := s.sentenceMessages(ctx, userID, q, roomID)

	conv := newSenders(s.store)
	seen := make(map[string]struct{})
	add := func(m *store.Message, snippet, matchType string, score float64) {
		if _, ok := seen[m.ID]; ok {
			return
		}
		seen[m.ID] = struct{}{}
		resp.Results = append(resp.Results, proto.SearchResult{
			Message:   conv.convert(ctx, m),
			Snippet:   snippet,
			MatchType: matchType,
			Score:     score,
		})
	}

	for _, m := range keyword {
		matchType, text := keywordMatch(m, q)
		add(m, snippet(text, q), matchType, keywordScore)
	}
	for _, m := range semantic {
		add(m, snippet(firstText(m.Transcription, m.Content), q), proto.MatchSemantic, semanticScore)
	}
	for _, m := range sentences {
		add(m, snippet(best[m.ID], q), proto.MatchDocument, sentenceScore)
	}

	resp.Total = len(resp.Results)
	return resp, nil
}

// keywordMatch decides which field matched. Transcription wins when it contains q.
func keywordMatch(m *store.Message, q string) (string, string) {
	if m.Transcription != nil && containsFold(*m.Transcription, q) {
		if m.Type == string(proto.KindDocument) {
			return proto.MatchDocument, *m.Transcription
		}
		return proto.MatchTranscription, *m.Transcription
	}
	return proto.MatchText, firstText(m.Content)
}

func (s *Service) semanticMessages(ctx context.Context, userID, q, roomID string) []*store.Message {
	ids, err := s.index.SearchMessages(ctx, q, semanticTopK)
	if err != nil {
		s.logger.Warn().Err(err).Msg("semantic search")
		return nil
	}
	return s.loadHits(ctx, userID, roomID, ids)
}

func (s *Service) sentenceMessages(ctx context.Context, userID, q, roomID string) ([]*store.Message, map[string]string) {
	hits, err := s.index.SearchSentences(ctx, q, sentenceTopK)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sentence search")
		return nil, nil
	}
	best := make(map[string]string, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := best[h.MessageID]; ok {
			continue
		}
		best[h.MessageID] = h.Sentence
		ids = append(ids, h.MessageID)
	}
	return s.loadHits(ctx, userID, roomID, ids), best
}

// loadHits fetches the visible messages among ids, keeping the index's ranking.
func (s *Service) loadHits(ctx context.Context, userID, roomID string, ids []string) []*store.Message {
	if len(ids) == 0 {
		return nil
	}
	msgs, err := s.store.GetMessagesByIDs(ctx, userID, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load semantic hits")
		return nil
	}
	byID := make(map[string]*store.Message, len(msgs))
	for _, m := range msgs {
		if roomID == "" || m.RoomID == roomID {
			byID[m.ID] = m
		}
	}
	out := make([]*store.Message, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
			delete(byID, id)
		}
	}
	return out
}

func snippet(text, q string) string {
	return search.Snippet(text, q, snippetWindow/2)
}

func firstText(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
