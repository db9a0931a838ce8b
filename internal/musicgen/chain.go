package musicgen

import (
	"context"
	"errors"
	"log/slog"
)

// Chain tries each generator in order until one succeeds.
type Chain struct {
	generators []Generator
	logger     *slog.Logger
}

// NewChain returns a chain over the non-nil generators.
func NewChain(logger *slog.Logger, generators ...Generator) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger}
	for _, g := range generators {
		if g != nil {
			c.generators = append(c.generators, g)
		}
	}
	return c
}

// Len returns the number of configured generators.
func (c *Chain) Len() int { return len(c.generators) }

// Generate returns the first successful result. Backends that cannot take
// a melody are skipped for melody requests. No further backend is tried
// once ctx is done.
func (c *Chain) Generate(ctx context.Context, req *Request) (*Result, error) {
	if len(c.generators) == 0 {
		return nil, errors.New("musicgen: no generators configured")
	}

	var errs []error
	for i, g := range c.generators {
		if i > 0 && ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := g.Generate(ctx, req)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrMelodyUnsupported) {
			continue
		}
		c.logger.Warn("generator failed", "index", i, "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrMelodyUnsupported
	}
	return nil, errors.Join(errs...)
}
