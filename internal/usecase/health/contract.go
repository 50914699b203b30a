package health

import "context"

// Pinger checks that a store driver answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// EmbeddingChecker checks the embedding provider behind the document and
// query embedders.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
