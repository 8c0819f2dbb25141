package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/edwardlthompson/linear-trend-spotter/internal/config"
	"github.com/edwardlthompson/linear-trend-spotter/internal/metrics"
)

// Client wraps outbound HTTP calls with per-service rate limiting,
// exponential backoff on throttling, bounded retries on transient
// failures, and a per-service circuit breaker. All callers hitting the
// same service id share one limiter and one breaker, so global interval
// and failure-count invariants hold across concurrent workers.
type Client struct {
	httpc  *http.Client
	policy func(id string) config.ServicePolicy
	meter  *metrics.Registry

	mu       sync.Mutex
	services map[string]*service
}

type service struct {
	id      string
	policy  config.ServicePolicy
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu        sync.Mutex
	throttles int // consecutive throttled responses, reset on success
}

// NewClient builds a fetch client resolving service policies through cfg.
// meter may be nil.
func NewClient(cfg *config.Config, meter *metrics.Registry) *Client {
	return &Client{
		httpc:    &http.Client{},
		policy:   cfg.Service,
		meter:    meter,
		services: make(map[string]*service),
	}
}

// SetHTTPClient replaces the underlying transport, used by tests.
func (c *Client) SetHTTPClient(httpc *http.Client) { c.httpc = httpc }

func (c *Client) service(id string) *service {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.services[id]; ok {
		return s
	}

	policy := c.policy(id)
	s := &service{
		id:     id,
		policy: policy,
	}

	interval := policy.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	burst := policy.Burst
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Every(interval), burst)

	failures := policy.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1, // one trial call while half-open
		Timeout:     policy.BreakerWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			c.meter.SetBreakerState(name, breakerGauge(to))
		},
	})

	c.services[id] = s
	return s
}

func breakerGauge(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Do executes req against the named service, honoring its reliability
// policy. The returned response body is open and must be closed by the
// caller. Failures carry the taxonomy sentinels.
func (c *Client) Do(ctx context.Context, serviceID string, req *http.Request) (*http.Response, error) {
	s := c.service(serviceID)

	var lastErr error
	for attempt := 0; attempt <= s.policy.MaxRetries; attempt++ {
		var retryDelay time.Duration
		if attempt > 0 {
			c.meter.RecordRetry(serviceID)
			retryDelay = s.retryDelay(attempt)
		}

		if err := s.waitTurn(ctx, retryDelay); err != nil {
			return nil, err
		}

		resp, err := s.attempt(ctx, c.httpc, req.Clone(ctx))
		if err == nil {
			c.meter.RecordFetch(serviceID, "ok")
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Open breaker fails fast, no retry budget spent.
			c.meter.RecordFetch(serviceID, "breaker_open")
			return nil, fmt.Errorf("%w: circuit open for %s", ErrUnavailable, serviceID)
		}
		if !Retryable(err) {
			c.meter.RecordFetch(serviceID, "client_error")
			return nil, err
		}

		log.Debug().
			Str("service", serviceID).
			Int("attempt", attempt+1).
			Err(err).
			Msg("request failed, will retry")
	}

	c.meter.RecordFetch(serviceID, "exhausted")
	return nil, fmt.Errorf("retries exhausted for %s: %w", serviceID, lastErr)
}

// waitTurn blocks for the service's minimum inter-call interval plus the
// larger of the accumulated throttle backoff and the in-call retry delay,
// with bounded jitter on every wait so concurrent callers don't retry in
// lockstep.
func (s *service) waitTurn(ctx context.Context, retryDelay time.Duration) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	wait := s.backoff()
	if retryDelay > wait {
		wait = retryDelay
	}
	wait += s.jitter()
	if wait <= 0 {
		return nil
	}

	if wait > s.policy.BackoffBase {
		log.Info().
			Str("service", s.id).
			Dur("backoff", wait).
			Msg("throttle backoff active")
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// backoff returns the doubling delay implied by consecutive throttled
// responses: base, 2*base, 4*base... capped at BackoffMax. Zero when the
// last call succeeded.
func (s *service) backoff() time.Duration {
	s.mu.Lock()
	n := s.throttles
	s.mu.Unlock()

	if n <= 0 {
		return 0
	}
	base := s.policy.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.policy.BackoffMax {
			return s.policy.BackoffMax
		}
	}
	if s.policy.BackoffMax > 0 && d > s.policy.BackoffMax {
		d = s.policy.BackoffMax
	}
	return d
}

// retryDelay is the doubling schedule for transient-failure retries
// within one call: base, 2*base, ... capped at BackoffMax.
func (s *service) retryDelay(attempt int) time.Duration {
	base := s.policy.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt-1)
	if s.policy.BackoffMax > 0 && d > s.policy.BackoffMax {
		d = s.policy.BackoffMax
	}
	return d
}

func (s *service) jitter() time.Duration {
	max := s.policy.JitterMax
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// attempt runs one HTTP round trip through the breaker. Client errors and
// not-found are returned as payload alongside a nil breaker error so they
// never count toward the consecutive-failure threshold.
func (s *service) attempt(ctx context.Context, httpc *http.Client, req *http.Request) (*http.Response, error) {
	type outcome struct {
		resp *http.Response
		err  error
	}

	// Copy so the per-service timeout doesn't leak into other services.
	hc := *httpc
	if s.policy.RequestTimeout > 0 {
		hc.Timeout = s.policy.RequestTimeout
	}

	out, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if serr := classifyStatus(s.id, resp.StatusCode); serr != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if Retryable(serr) {
				return nil, serr
			}
			return outcome{err: serr}, nil
		}
		return outcome{resp: resp}, nil
	})

	if err != nil {
		if errors.Is(err, ErrThrottled) {
			s.recordThrottle()
		}
		return nil, err
	}

	o := out.(outcome)
	if o.err != nil {
		return nil, o.err
	}
	s.recordSuccess()
	return o.resp, nil
}

func (s *service) recordThrottle() {
	s.mu.Lock()
	s.throttles++
	n := s.throttles
	s.mu.Unlock()
	log.Warn().Str("service", s.id).Int("consecutive", n).Msg("rate limit hit")
}

func (s *service) recordSuccess() {
	s.mu.Lock()
	s.throttles = 0
	s.mu.Unlock()
}

// GetJSON issues a GET and decodes the 2xx response body into v.
func (c *Client) GetJSON(ctx context.Context, serviceID, url string, header http.Header, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrClientError, err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, serviceID, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, serviceID, err)
	}
	return nil
}
