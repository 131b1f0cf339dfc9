// Package gateway wraps calls to the external vision service with timeout,
// retry, and backoff policy. The gateway holds no cross-call state: each call
// is classified and retried independently.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/docuport/internal/vision"
)

// Attempt describes one observed call attempt. Every attempt is reported to
// the configured observer, including the final one.
type Attempt struct {
	Op      string // "detect" or "extract"
	Number  uint   // 1-indexed attempt number
	Err     error  // nil on success
	Outcome Outcome
}

// Outcome classifies what happened on an attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetry     Outcome = "transient_retry"
	OutcomePermanent Outcome = "permanent_failure"
	OutcomeExhausted Outcome = "retries_exhausted"
)

// Config holds retry and timeout policy for the gateway.
type Config struct {
	// MaxAttempts is the total number of attempts per call (default 3).
	MaxAttempts uint

	// BaseDelay is the first backoff interval; subsequent intervals double
	// with randomized jitter (default 2s).
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval (default 30s).
	MaxDelay time.Duration

	// Timeout bounds each individual attempt (default 120s).
	Timeout time.Duration

	// OnAttempt observes every attempt for audit/logging. Optional.
	OnAttempt func(Attempt)

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Gateway wraps a vision client with the configured call policy.
type Gateway struct {
	client vision.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a gateway around the given vision client.
func New(client vision.Client, cfg Config) *Gateway {
	cfg.applyDefaults()
	return &Gateway{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "gateway", "backend", client.Name()),
	}
}

// DetectSections calls the detection endpoint under the retry policy.
func (g *Gateway) DetectSections(ctx context.Context, req *vision.DetectRequest) (*vision.DetectResult, error) {
	return call(g, ctx, "detect", func(ctx context.Context) (*vision.DetectResult, error) {
		return g.client.DetectSections(ctx, req)
	})
}

// ExtractSection calls the extraction endpoint under the retry policy.
func (g *Gateway) ExtractSection(ctx context.Context, req *vision.ExtractRequest) (*vision.ExtractResult, error) {
	return call(g, ctx, "extract", func(ctx context.Context) (*vision.ExtractResult, error) {
		return g.client.ExtractSection(ctx, req)
	})
}

// call runs fn with per-attempt timeout, exponential backoff with jitter, and
// transient/permanent classification. Permanent failures are never retried;
// transient failures retry up to MaxAttempts total attempts.
func call[T any](g *Gateway, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	var attempt uint

	err := retry.Do(
		func() error {
			attempt++
			attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()

			res, err := fn(attemptCtx)
			if err == nil {
				result = res
				g.observe(Attempt{Op: op, Number: attempt, Outcome: OutcomeSuccess})
				return nil
			}

			// A timed-out attempt surfaces as DeadlineExceeded; treat it as
			// transient unless the parent context itself is done.
			if ctx.Err() != nil {
				g.observe(Attempt{Op: op, Number: attempt, Err: err, Outcome: OutcomePermanent})
				return retry.Unrecoverable(ctx.Err())
			}
			if attemptCtx.Err() != nil && !vision.IsPermanent(err) {
				err = vision.Transient(op, err)
			}

			outcome := OutcomeRetry
			if vision.IsPermanent(err) {
				outcome = OutcomePermanent
			} else if attempt >= g.cfg.MaxAttempts {
				outcome = OutcomeExhausted
			}
			g.observe(Attempt{Op: op, Number: attempt, Err: err, Outcome: outcome})

			if vision.IsPermanent(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(g.cfg.MaxAttempts),
		retry.Delay(g.cfg.BaseDelay),
		retry.MaxDelay(g.cfg.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(g.cfg.BaseDelay/2),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("retrying call", "op", op, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return result, fmt.Errorf("%s call failed after %d attempt(s): %w", op, attempt, err)
	}
	return result, nil
}

func (g *Gateway) observe(a Attempt) {
	switch a.Outcome {
	case OutcomeSuccess:
		g.logger.Debug("call succeeded", "op", a.Op, "attempt", a.Number)
	case OutcomePermanent:
		g.logger.Error("call failed permanently", "op", a.Op, "attempt", a.Number, "error", a.Err)
	case OutcomeExhausted:
		g.logger.Error("call retries exhausted", "op", a.Op, "attempts", a.Number, "error", a.Err)
	}
	if g.cfg.OnAttempt != nil {
		g.cfg.OnAttempt(a)
	}
}
