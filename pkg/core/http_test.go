package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var fastRetry = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2.0,
}

func TestRetryRecoversFromServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := WithRetryFactory(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, srv.Client(), fastRetry)
	if err != nil {
		t.Fatalf("expected recovery on the third attempt, got %v", err)
	}
	resp.Body.Close()
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRetryStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("Changeset already closed"))
	}))
	defer srv.Close()

	_, err := WithRetryFactory(context.Background(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, srv.Client(), fastRetry)
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("client errors are final: expected 1 attempt, got %d", got)
	}

	var coreErr *Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if coreErr.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", coreErr.Status)
	}
	if coreErr.Body != "Changeset already closed" {
		t.Errorf("server text not preserved: %q", coreErr.Body)
	}
}

func TestRetryStopsOnObjectLimit(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, 509} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		_, err := WithRetryFactory(context.Background(), func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, srv.URL, nil)
		}, srv.Client(), fastRetry)
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected an error", status)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("status %d is shrink territory, not retry: %d attempts", status, got)
		}
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := fastRetry
	slow.InitialDelay = time.Minute

	_, err := WithRetryFactory(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, srv.Client(), slow)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryPreservesFactoryErrorChain(t *testing.T) {
	_, err := WithRetryFactory(context.Background(), func() (*http.Request, error) {
		return nil, ErrAuthRequired
	}, nil, fastRetry)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrAuthRequired) {
		t.Errorf("factory error lost from the chain: %v", err)
	}
}

func TestDoWithRetryClonesRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Marker") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Marker", "1")

	resp, err := DoWithRetry(context.Background(), req, srv.Client())
	if err != nil {
		t.Fatalf("DoWithRetry failed: %v", err)
	}
	resp.Body.Close()
}
