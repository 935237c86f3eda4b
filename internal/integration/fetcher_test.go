package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "payload")
	}))
	defer server.Close()

	f := NewFetcher(time.Second, testLogger())
	body, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestFetchClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			f := NewFetcher(time.Second, testLogger())
			_, err := f.Fetch(context.Background(), Request{URL: server.URL})
			require.Error(t, err)

			var transient *TransientFetchError
			var permanent *PermanentFetchError
			if tt.transient {
				require.ErrorAs(t, err, &transient)
				assert.Equal(t, tt.status, transient.Status)
			} else {
				require.ErrorAs(t, err, &permanent)
				assert.Equal(t, tt.status, permanent.Status)
			}
		})
	}
}

func TestFetchNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	f := NewFetcher(time.Second, testLogger())
	_, err := f.Fetch(context.Background(), Request{URL: server.URL})

	var transient *TransientFetchError
	require.ErrorAs(t, err, &transient)
}

func TestFetchPassesHeaders(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Gismeteo-Token")
		io.WriteString(w, "{}")
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("X-Gismeteo-Token", "secret")

	f := NewFetcher(time.Second, testLogger())
	_, err := f.Fetch(context.Background(), Request{URL: server.URL, Header: header})
	require.NoError(t, err)
	assert.Equal(t, "secret", gotToken)
}

func TestFetchTwoStepRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "token-abc123")
	})
	mux.HandleFunc("/table", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "table for "+r.URL.Query().Get("session"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := NewFetcher(time.Second, testLogger())
	body, err := f.Fetch(context.Background(), Request{
		Setup: server.URL + "/session",
		Finalize: func(setupBody []byte) (string, error) {
			return server.URL + "/table?session=" + string(setupBody), nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "table for token-abc123", string(body))
}

func TestFetchTwoStepFinalizeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "no token here")
	}))
	defer server.Close()

	f := NewFetcher(time.Second, testLogger())
	_, err := f.Fetch(context.Background(), Request{
		Setup: server.URL,
		Finalize: func([]byte) (string, error) {
			return "", fmt.Errorf("session token not found")
		},
	})

	var structErr *ParseStructureError
	require.ErrorAs(t, err, &structErr)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewFetcher(time.Second, testLogger())
	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = f.Fetch(context.Background(), Request{URL: server.URL})
		require.Error(t, lastErr)
	}

	// The breaker opened along the way; later failures are reported without
	// hitting the server.
	var transient *TransientFetchError
	require.ErrorAs(t, lastErr, &transient)
	assert.Less(t, requests, 10)
}
