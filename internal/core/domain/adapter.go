package domain

import "context"

// StreamReader is a lazy, finite, non-restartable sequence of
// StreamChunk values with cooperative cancellation via ctx. Next
// returns (chunk, true, nil) while chunks remain, (zero, false, nil)
// after a clean terminal chunk, or (zero, false, err) on failure.
// Close must be called exactly once by the caller to release the
// underlying connection, whether or not Next was drained to
// completion.
type StreamReader interface {
	Next(ctx context.Context) (StreamChunk, bool, error)
	Close() error
}

// Adapter translates one InferenceRequest into one upstream call (or
// streaming call) and decodes the upstream's response back into the
// unified shape. Exactly one concrete type exists per EngineType tag;
// unsupported operations return ErrUnsupported rather than being
// absent from the interface.
type Adapter interface {
	EngineType() EngineType
	Endpoint() string

	Generate(ctx context.Context, req *InferenceRequest) (*InferenceResponse, error)
	Stream(ctx context.Context, req *InferenceRequest) (StreamReader, error)
	HealthCheck(ctx context.Context) (HealthCheckResult, error)
	ListModels(ctx context.Context) ([]ModelListing, error)
	Embeddings(ctx context.Context, texts []string, model string) (*EmbeddingResponse, error)
}

// EndpointSelector picks one candidate entry from a filtered set,
// mirroring the priority/round-robin tie-break rules in the Router.
type EndpointSelector interface {
	Select(ctx context.Context, candidates []*ModelEntry) (*ModelEntry, error)
	Name() string
}
