package acs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"acs-pipeline/models"
	"acs-pipeline/utils"
)

// SessionConfig configures a Session. The zero value is usable: one
// attempt, no rate limit, a 30 second timeout.
type SessionConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	// MinInterval is the minimum spacing between requests across every
	// goroutine sharing the session. Zero disables rate limiting.
	MinInterval time.Duration
	// MaxInFlight caps concurrent requests across every goroutine sharing
	// the session. Zero means no cap.
	MaxInFlight int
	// Transport replaces the default HTTP transport, mostly for tests.
	Transport http.RoundTripper
	Logger    *utils.Logger
}

type sessionState int

const (
	stateNew sessionState = iota
	stateOpen
	stateClosed
)

func (st sessionState) String() string {
	switch st {
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return "new"
}

// Session is the shared connection pool every fetch goes through. It must
// be opened before the first Fetch and closed exactly once afterwards;
// Close waits for in-flight fetches. Fetch is safe for concurrent use.
type Session struct {
	client   *resty.Client
	limiter  *rate.Limiter
	inflight *semaphore.Weighted
	retry    *utils.RetryConfig
	logger   *utils.Logger

	mu    sync.RWMutex
	state sessionState
}

// NewSession creates an unopened Session.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.Transport != nil {
		client.SetTransport(cfg.Transport)
	}

	var limiter *rate.Limiter
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	var inflight *semaphore.Weighted
	if cfg.MaxInFlight > 0 {
		inflight = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}

	return &Session{
		client:   client,
		limiter:  limiter,
		inflight: inflight,
		logger:   logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			ShouldRetry: isTransient,
			Logger:      logger,
		},
	}
}

// Open makes the session usable. Opening twice, or after Close, fails.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateNew {
		return &models.SessionClosedError{Op: "open", State: s.state.String()}
	}
	s.state = stateOpen
	return nil
}

// Close waits for in-flight fetches and releases pooled connections. A
// second Close fails.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return &models.SessionClosedError{Op: "close", State: s.state.String()}
	}
	s.state = stateClosed
	s.client.GetClient().CloseIdleConnections()
	return nil
}

// WithSession opens a session, runs fn and closes the session on every
// exit path.
func WithSession(cfg SessionConfig, fn func(*Session) error) (err error) {
	s := NewSession(cfg)
	if err := s.Open(); err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(s)
}

// Fetch performs the request and decodes the two-row array response.
func (s *Session) Fetch(ctx context.Context, spec RequestSpec) (models.RawSeriesResponse, error) {
	body, attempts, err := s.get(ctx, spec.URL(), spec.Target())
	if err != nil {
		return models.RawSeriesResponse{}, err
	}

	raw, err := DecodeResponse(body)
	if err != nil {
		return models.RawSeriesResponse{}, &models.FetchFailedError{Target: spec.Target(), StatusCode: http.StatusOK, Attempts: attempts, Err: err}
	}
	return raw, nil
}

// Get fetches target and returns the body of a successful response.
// Transport errors and 5xx responses are retried per the session's
// policy; 4xx and empty responses are not. redacted is the form of the
// target used in logs and errors.
func (s *Session) Get(ctx context.Context, target, redacted string) ([]byte, error) {
	body, _, err := s.get(ctx, target, redacted)
	return body, err
}

// get is Get plus the number of attempts made.
func (s *Session) get(ctx context.Context, target, redacted string) ([]byte, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != stateOpen {
		return nil, 0, &models.SessionClosedError{Op: "fetch", State: s.state.String()}
	}

	var (
		body   []byte
		status int
	)
	attempts, err := s.retry.Do(ctx, redacted, func(ctx context.Context) error {
		if s.inflight != nil {
			if err := s.inflight.Acquire(ctx, 1); err != nil {
				return err
			}
			defer s.inflight.Release(1)
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		resp, err := s.client.R().SetContext(ctx).Get(target)
		if err != nil {
			status = 0
			return &transportError{err: err}
		}

		status = resp.StatusCode()
		switch {
		case status >= 400:
			return &statusError{code: status, body: snippet(resp.Body())}
		case status == http.StatusNoContent || len(bytes.TrimSpace(resp.Body())) == 0:
			return errEmptyResponse
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		s.logger.Debug("[session] %s failed: %v", redacted, err)
		return nil, attempts, &models.FetchFailedError{
			Target:     redacted,
			StatusCode: status,
			Attempts:   attempts,
			Transient:  isTransient(err),
			Err:        err,
		}
	}

	s.logger.Debug("[session] %s -> %d (%d bytes)", redacted, status, len(body))
	return body, attempts, nil
}

var errEmptyResponse = errors.New("empty response body")

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "unexpected status " + strconv.Itoa(e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// isTransient reports whether err is worth retrying: transport failures
// other than cancellation, and 5xx responses.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return false
}

func snippet(body []byte) string {
	const max = 200
	b := bytes.TrimSpace(body)
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// DecodeResponse parses a JSON array of exactly two equal-length rows.
// Null cells decode to "", numbers keep their textual form.
func DecodeResponse(body []byte) (models.RawSeriesResponse, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return models.RawSeriesResponse{}, fmt.Errorf("malformed response: %w", err)
	}
	if len(rows) != 2 {
		return models.RawSeriesResponse{}, fmt.Errorf("malformed response: want 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != len(rows[1]) {
		return models.RawSeriesResponse{}, fmt.Errorf("malformed response: %d ids but %d values", len(rows[0]), len(rows[1]))
	}

	ids, err := cellsToStrings(rows[0])
	if err != nil {
		return models.RawSeriesResponse{}, err
	}
	values, err := cellsToStrings(rows[1])
	if err != nil {
		return models.RawSeriesResponse{}, err
	}
	return models.RawSeriesResponse{IDs: ids, Values: values}, nil
}

func cellsToStrings(cells []any) ([]string, error) {
	out := make([]string, len(cells))
	for i, c := range cells {
		switch v := c.(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = v
		case json.Number:
			out[i] = v.String()
		case bool:
			out[i] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("malformed response: unexpected cell %v at column %d", c, i)
		}
	}
	return out, nil
}
