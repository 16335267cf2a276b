package search

import (
	"sort"

	"github.com/vovakirdan/voicechat/internal/proto"
)

// Result is a search hit with highlight spans into its snippet.
type Result struct {
	proto.SearchResult
	Spans []Span `json:"spans"`
}

type resultKey struct {
	id     string
	source string
}

// Merge orders a response for display. Literal hits (text, transcription and whole-document
// matches) come first by recency, followed by similarity hits by score. A response the
// collaborator already marked as merged keeps its order. Each (message, source) pair appears once.
func Merge(resp proto.SearchResponse, query string) []Result {
	var ordered []proto.SearchResult
	if resp.Merged {
		ordered = resp.Results
	} else {
		var literal, ranked []proto.SearchResult
		for _, r := range resp.Results {
			if isLiteral(r) {
				literal = append(literal, r)
			} else {
				ranked = append(ranked, r)
			}
		}
		sort.SliceStable(literal, func(i, j int) bool {
			return literal[i].Message.CreatedAt.After(literal[j].Message.CreatedAt)
		})
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Score > ranked[j].Score
		})
		ordered = append(literal, ranked...)
	}

	seen := make(map[resultKey]struct{}, len(ordered))
	out := make([]Result, 0, len(ordered))
	for _, r := range ordered {
		k := resultKey{id: r.Message.ID, source: r.MatchType}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if r.Snippet == "" {
			r.Snippet = Snippet(searchableText(r.Message), query, 80)
		}
		out = append(out, Result{SearchResult: r, Spans: Highlight(r.Snippet, query)})
	}
	return out
}

func isLiteral(r proto.SearchResult) bool {
	switch r.MatchType {
	case proto.MatchText, proto.MatchTranscription:
		return true
	case proto.MatchDocument:
		return r.Score >= 1
	}
	return false
}

func searchableText(m proto.Message) string {
	if m.Content != nil && *m.Content != "" {
		return *m.Content
	}
	if m.Transcription != nil {
		return *m.Transcription
	}
	return ""
}
