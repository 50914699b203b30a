package document

// Page selects one slice of a filtered listing. Cursor is opaque to callers;
// an empty Cursor starts from the beginning.
type Page struct {
	Cursor               string
	Limit                int
	WithEmbedding        bool
	OnlyWithoutEmbedding bool
}

// Scored is a similarity hit with the backend's raw score.
type Scored struct {
	Document Document
	RawScore float64
}
