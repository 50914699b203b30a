package db

// ScoreField is the FT.SEARCH yield name carrying the KNN distance.
const ScoreField = "__score"

// KNNQuery is the input for vector similarity search.
// Filter is a compiled FT.SEARCH pre-filter; empty means all documents.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filter       string
	Vector       []float32
	K            int
	ReturnFields []string
}

// ListQuery is the input for a paginated FT.SEARCH listing.
type ListQuery struct {
	IndexName    string
	Query        string
	Offset       int
	Limit        int
	SortBy       string
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// For KNN queries Score is the raw distance reported by the server.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
