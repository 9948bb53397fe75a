package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cvforge/internal/credits"
)

// ErrEmptyContent marks a request whose content failed the precondition after
// the reservation was taken. The pipeline refunds before returning it.
var ErrEmptyContent = errors.New("content is required")

// DelegationError wraps a failure of the external generator (or of output
// validation). The reservation has already been reversed when it is returned.
type DelegationError struct {
	Kind string
	Err  error
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("operation %q failed: %v", e.Kind, e.Err)
}

func (e *DelegationError) Unwrap() error { return e.Err }

// Pipeline wraps every credit-priced, externally delegated operation in a
// reserve -> validate -> delegate -> commit-or-refund envelope. It performs
// no retries; a failed delegation is reported once with its credits returned.
type Pipeline struct {
	ledger    *credits.Ledger
	generator Generator
	logger    *slog.Logger
}

// NewPipeline constructs the pipeline.
func NewPipeline(ledger *credits.Ledger, generator Generator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		ledger:    ledger,
		generator: generator,
		logger:    logger,
	}
}

// Run executes one priced operation for the account. post, when non-nil,
// validates or re-extracts the generator output; its failure counts as a
// delegation failure and triggers the refund path like any other.
func (p *Pipeline) Run(ctx context.Context, userID uint, kind, instructions, input string, post func(string) (string, error)) (string, error) {
	if err := p.ledger.Reserve(ctx, userID, kind); err != nil {
		return "", err
	}

	if strings.TrimSpace(input) == "" {
		// The reservation must not be charged for a request that never
		// reached the external system.
		p.refund(ctx, userID, kind)
		return "", ErrEmptyContent
	}

	output, err := p.generator.Generate(ctx, instructions, input)
	if err == nil && post != nil {
		output, err = post(output)
	}
	if err != nil {
		p.refund(ctx, userID, kind)
		return "", &DelegationError{Kind: kind, Err: err}
	}

	return output, nil
}

// refund is best-effort: its own failure is logged and never masks the error
// that triggered it. The parent context may already be dead, so the refund
// runs detached from its cancellation.
func (p *Pipeline) refund(ctx context.Context, userID uint, kind string) {
	if err := p.ledger.Refund(context.WithoutCancel(ctx), userID, kind); err != nil {
		p.logger.Error("refund after failed operation",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("operation", kind),
			slog.Any("error", err),
		)
	}
}
