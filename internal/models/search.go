package models

// MetadataFilter is a conjunctive filter for metadata search. Zero values
// mean "no constraint" for that field. Only latest versions are matched.
type MetadataFilter struct {
	Name      string  `json:"name,omitempty"` // filename substring, case-insensitive
	ProjectID *string `json:"project_id,omitempty"`
	Extension string  `json:"ext,omitempty"` // extension suffix, with or without leading dot
	Tag       string  `json:"tag,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// SemanticHit is one semantic search result with its cosine similarity score.
type SemanticHit struct {
	File  *FileRecord `json:"file"`
	Score float64     `json:"score"`
}

// ModeCounts reports per-mode hit counts for a combined search. A failed
// mode contributes zero; the failure is visible only here.
type ModeCounts struct {
	Semantic int `json:"semantic"`
	Keyword  int `json:"keyword"`
	Metadata int `json:"metadata"`
}

// CombinedResponse is the merged, deduplicated result of running all three
// search modes. Results keeps one record per file id (first-seen wins, in
// semantic, keyword, metadata order).
type CombinedResponse struct {
	Query       string        `json:"query"`
	Results     []*FileRecord `json:"results"`
	Counts      ModeCounts    `json:"counts"`
	QueryTimeMS int64         `json:"query_time_ms"`
}
