package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Router tries its providers in order, each under its own timeout, and
// returns the first reply.
type Router struct {
	providers []Provider
	timeout   time.Duration
}

// NewRouter builds a router. Nil providers are ignored; a zero timeout means none.
func NewRouter(timeout time.Duration, providers ...Provider) *Router {
	r := &Router{timeout: timeout}
	for _, p := range providers {
		if p != nil {
			r.providers = append(r.providers, p)
		}
	}
	return r
}

// Providers returns the configured providers in call order.
func (r *Router) Providers() []Provider {
	return r.providers
}

// Generate returns the first successful reply. When every provider fails the
// error wraps ErrUnavailable.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	if len(r.providers) == 0 {
		return "", fmt.Errorf("no providers configured: %w", ErrUnavailable)
	}

	var errs []error
	for _, p := range r.providers {
		reply, err := r.call(ctx, p, req)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		slog.Warn("llm provider failed", "provider", p.Name(), "error", err)
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

func (r *Router) call(ctx context.Context, p Provider, req Request) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return p.Generate(ctx, req)
}
