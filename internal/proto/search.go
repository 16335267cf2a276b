package proto

// Match sources of a search hit.
const (
	MatchText          = "text"
	MatchTranscription = "transcription"
	MatchSemantic      = "semantic"
	MatchDocument      = "document"
)

// SearchResult is one hit as returned by the search endpoint.
type SearchResult struct {
	Message   Message `json:"message"`
	Snippet   string  `json:"snippet"`
	MatchType string  `json:"match_type"`
	Score     float64 `json:"score"`
}

// SearchResponse is the body of GET /api/search.
// Merged is set when the server already ordered the results across sources.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Merged  bool           `json:"merged,omitempty"`
}
