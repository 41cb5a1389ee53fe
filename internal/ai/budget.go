package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const retryBaseDelay = 2 * time.Second

// RequestBudget throttles provider calls with a shared token bucket, a
// concurrency cap, and bounded exponential-backoff retries.
type RequestBudget struct {
	limiter        *rate.Limiter
	sem            chan struct{}
	maxRetries     int
	attemptTimeout time.Duration
}

func NewRequestBudget(perSecond float64, burst int, maxConcurrency int, maxRetries int, attemptTimeout time.Duration) *RequestBudget {
	if burst < 1 {
		burst = 1
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RequestBudget{
		limiter:        rate.NewLimiter(rate.Limit(perSecond), burst),
		sem:            make(chan struct{}, maxConcurrency),
		maxRetries:     maxRetries,
		attemptTimeout: attemptTimeout,
	}
}

// Do runs fn under the budget. Each attempt waits for a rate token and
// a concurrency slot; failures back off exponentially up to the retry
// cap and the final failure is reported as transient.
func (b *RequestBudget) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		select {
		case b.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		err := b.attempt(ctx, fn)
		<-b.sem
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if attempt == b.maxRetries {
			break
		}
		delay := retryBaseDelay << (attempt - 1)
		logutil.GetLogger(ctx).Warn("provider call failed, backing off",
			zap.String("op", op), zap.Int("attempt", attempt),
			zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %v",
		errs.ErrTransientProvider, op, b.maxRetries, lastErr)
}

func (b *RequestBudget) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.attemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, b.attemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

type budgetedGenerator struct {
	next   IGenerator
	budget *RequestBudget
}

func NewBudgetedGenerator(next IGenerator, budget *RequestBudget) IGenerator {
	if budget == nil {
		return next
	}
	return &budgetedGenerator{next: next, budget: budget}
}

func (g *budgetedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.budget.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = g.next.Generate(ctx, prompt)
		return err
	})
	return out, err
}

type budgetedEmbedder struct {
	next   IEmbedder
	budget *RequestBudget
}

func NewBudgetedEmbedder(next IEmbedder, budget *RequestBudget) IEmbedder {
	if budget == nil {
		return next
	}
	return &budgetedEmbedder{next: next, budget: budget}
}

func (e *budgetedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var out []float32
	err := e.budget.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, text, taskType)
		return err
	})
	return out, err
}

func (e *budgetedEmbedder) ModelName() string {
	return e.next.ModelName()
}
