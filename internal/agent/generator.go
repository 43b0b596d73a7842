package agent

import "context"

// Generator produces agent content. A rate-limit signal is reported through
// Result.RateLimited, never as an error, so callers can tell it apart from an
// ordinary failure.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Result, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

var (
	_ Generator = (*GrpcClient)(nil)
	_ Generator = (*Canned)(nil)
	_ Generator = (*Service)(nil)
)
