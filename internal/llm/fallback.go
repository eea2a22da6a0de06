package llm

import (
	"context"
	"fmt"

	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

// FallbackClient tries a primary provider and falls back to a secondary
// when the primary errors. Both providers see the same request; the
// caller cannot tell which one answered.
type FallbackClient struct {
	primary   Client
	secondary Client
	logger    *logging.Logger
}

// NewFallbackClient builds a fallback chain. secondary may be nil, in
// which case primary errors are returned as-is.
func NewFallbackClient(primary, secondary Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("llm: fallback primary cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{
		primary:   primary,
		secondary: secondary,
		logger:    logger.Component("llm.fallback"),
	}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.secondary == nil || ctx.Err() != nil {
		return Response{}, err
	}

	c.logger.Warn("primary llm failed, trying fallback", "error", err)
	resp, fbErr := c.secondary.Complete(ctx, req)
	if fbErr != nil {
		return Response{}, fmt.Errorf("llm: primary failed (%v); fallback failed: %w", err, fbErr)
	}
	return resp, nil
}
