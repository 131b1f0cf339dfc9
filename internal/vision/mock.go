package vision

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is a Client for testing. Behavior is configurable per call via
// the Fn fields; if unset, calls succeed with canned results.
type MockClient struct {
	// Configurable behavior
	Latency    time.Duration
	Confidence float64 // confidence reported on default successes

	// Optional overrides. When set, the mock delegates to these after
	// applying latency and counting the call.
	DetectFn  func(ctx context.Context, req *DetectRequest) (*DetectResult, error)
	ExtractFn func(ctx context.Context, req *ExtractRequest) (*ExtractResult, error)

	// State
	detectCalls  atomic.Int64
	extractCalls atomic.Int64
}

// NewMockClient creates a mock client that succeeds with high confidence.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:    time.Millisecond,
		Confidence: 0.9,
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// DetectCalls returns how many detection calls were made.
func (c *MockClient) DetectCalls() int {
	return int(c.detectCalls.Load())
}

// ExtractCalls returns how many extraction calls were made.
func (c *MockClient) ExtractCalls() int {
	return int(c.extractCalls.Load())
}

// DetectSections returns a single general section covering the document,
// unless DetectFn overrides it.
func (c *MockClient) DetectSections(ctx context.Context, req *DetectRequest) (*DetectResult, error) {
	count := c.detectCalls.Add(1)
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	if c.DetectFn != nil {
		return c.DetectFn(ctx, req)
	}

	return &DetectResult{
		Sections: []DetectedSection{{
			SectionType: "general",
			Name:        "Document Content",
			StartPage:   1,
			EndPage:     req.TotalPages,
			Confidence:  c.Confidence,
		}},
		RequestID: fmt.Sprintf("mock-detect-%d", count),
		ModelUsed: MockClientName,
	}, nil
}

// ExtractSection returns a minimal payload with the configured confidence,
// unless ExtractFn overrides it.
func (c *MockClient) ExtractSection(ctx context.Context, req *ExtractRequest) (*ExtractResult, error) {
	count := c.extractCalls.Add(1)
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	if c.ExtractFn != nil {
		return c.ExtractFn(ctx, req)
	}

	return &ExtractResult{
		Payload: map[string]any{
			"section_name": req.SectionName,
			"content":      "mock extracted content",
		},
		Confidence: c.Confidence,
		RequestID:  fmt.Sprintf("mock-extract-%d", count),
		ModelUsed:  MockClientName,
	}, nil
}

func (c *MockClient) sleep(ctx context.Context) error {
	if c.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.Latency):
		return nil
	}
}

// AlwaysTransient returns a DetectFn/ExtractFn-compatible error generator
// used by tests that need every call to fail retryably.
func AlwaysTransient(op string) error {
	return Transient(op, errors.New("simulated service outage"))
}

var _ Client = (*MockClient)(nil)
