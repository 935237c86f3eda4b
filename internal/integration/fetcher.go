// Package integration handles external service interactions
package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Request describes one unit of work to fetch. Setup, when non-empty, is
// fetched first and Finalize turns its body into the final URL; this covers
// sources without stable per-date URLs that require a session page load.
type Request struct {
	URL      string
	Header   http.Header
	Setup    string
	Finalize func(setupBody []byte) (string, error)
}

// Fetcher performs network requests and classifies the outcome. A non-2xx
// status always becomes an explicit error value, never an empty success.
// Each remote host gets its own circuit breaker so one flapping site cannot
// poison requests to the others.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewFetcher creates a Fetcher with a bounded per-request timeout.
func NewFetcher(timeout time.Duration, log *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Fetch resolves the request, driving the setup step if present, and returns
// the document body or a classified fetch error.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	target := req.URL
	if req.Setup != "" {
		setupBody, err := f.get(ctx, req.Setup, req.Header)
		if err != nil {
			return nil, err
		}
		target, err = req.Finalize(setupBody)
		if err != nil {
			return nil, &ParseStructureError{Source: req.Setup, Reason: err.Error()}
		}
	}
	return f.get(ctx, target, req.Header)
}

func (f *Fetcher) get(ctx context.Context, target string, header http.Header) ([]byte, error) {
	cb := f.breaker(target)

	result, err := cb.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &PermanentFetchError{URL: target, Err: err}
		}
		for k, vs := range header {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}

		resp, err := f.client.Do(httpReq)
		if err != nil {
			return nil, &TransientFetchError{URL: target, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransientFetchError{URL: target, Err: err}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &TransientFetchError{URL: target, Status: resp.StatusCode}
		default:
			return nil, &PermanentFetchError{URL: target, Status: resp.StatusCode}
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransientFetchError{URL: target, Err: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (f *Fetcher) breaker(target string) *gobreaker.CircuitBreaker {
	host := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    host,
			Timeout: time.Minute,
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.log.Warn("circuit breaker state change", "host", name, "from", from.String(), "to", to.String())
			},
		})
		f.breakers[host] = cb
	}
	return cb
}
