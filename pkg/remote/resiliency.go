package remote

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// ResilientTransport wraps http.Client with exponential backoff and a
// circuit breaker. Trace context of the request is propagated in headers.
type ResilientTransport struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
	breaker     *CircuitBreaker
	propagator  propagation.TextMapPropagator
}

// NewResilientTransport returns a transport with three retries and a
// breaker that opens after five consecutive failures.
func NewResilientTransport(client *http.Client) *ResilientTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ResilientTransport{
		client:      client,
		maxRetries:  3,
		baseBackoff: 100 * time.Millisecond,
		breaker:     NewCircuitBreaker("remote", 5, 10*time.Second),
		propagator:  propagation.TraceContext{},
	}
}

// WithRetries overrides the retry count and base backoff.
func (t *ResilientTransport) WithRetries(n int, base time.Duration) *ResilientTransport {
	t.maxRetries = n
	t.baseBackoff = base
	return t
}

// Breaker exposes the circuit breaker.
func (t *ResilientTransport) Breaker() *CircuitBreaker { return t.breaker }

type replayableKey struct{}

// WithReplayable marks requests made with ctx as safe to send more than once.
// GET, HEAD and OPTIONS requests are always replayable.
func WithReplayable(ctx context.Context) context.Context {
	return context.WithValue(ctx, replayableKey{}, true)
}

func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	ok, _ := req.Context().Value(replayableKey{}).(bool)
	return ok
}

// Do executes req. Replayable requests are retried on transport errors and
// 5xx responses; any other request is sent once. Requests with a body must
// set GetBody so they can be replayed.
func (t *ResilientTransport) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	if !t.breaker.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, t.breaker.name)
	}

	retries := t.maxRetries
	if !replayable(req) {
		retries = 0
	}

	var resp *http.Response
	var err error
	for i := 0; i <= retries; i++ {
		if i > 0 && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, fmt.Errorf("replay request body: %w", berr)
			}
			req.Body = body
		}

		resp, err = t.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			t.breaker.Success()
			return resp, nil
		}
		if i == retries {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if werr := sleepContext(ctx, t.backoff(i)); werr != nil {
			t.breaker.Failure()
			return nil, werr
		}
	}

	t.breaker.Failure()
	return resp, err
}

func (t *ResilientTransport) backoff(attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	return backoff + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Breaker states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// CircuitBreaker is a failure counter that rejects calls for resetTimeout
// once threshold consecutive failures were recorded.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. An open breaker lets one trial call
// through after the reset timeout.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success closes the breaker.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}

// Failure records a failed call.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.failureCount >= cb.threshold || cb.state == StateHalfOpen {
		cb.state = StateOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
