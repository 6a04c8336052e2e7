package transport

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/event"
	"github.com/tanq16/danzo-agent/internal/utils"
)

func body(n int) []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), n/16+1)[:n]
}

// collect pops events until the transaction closes or the deadline passes.
func collect(t *testing.T, q *event.Queue, wait time.Duration) []event.Event {
	t.Helper()
	var events []event.Event
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		ev, ok := q.Pop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		events = append(events, ev)
		if ev.Kind == event.Final || ev.Kind == event.AbortWithError {
			return events
		}
	}
	t.Fatalf("transaction did not finish within %s", wait)
	return nil
}

func joinBodies(events []event.Event) []byte {
	var buf bytes.Buffer
	for _, ev := range events {
		if ev.Kind == event.BodyChunk {
			buf.Write(ev.Body)
		}
	}
	return buf.Bytes()
}

func TestTransactionDeliversAll(t *testing.T) {
	payload := body(100 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Header().Set("ETag", `"v1"`)
		w.Write(payload)
	}))
	defer srv.Close()

	s := NewHTTPSession(nil, WithReadSize(4096))
	q := event.NewQueue(0)
	id, err := s.StartTransaction(Request{
		URL:    srv.URL + "/file.bin",
		Header: http.Header{"X-Test": {"yes"}},
		Sink:   q,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	events := collect(t, q, 5*time.Second)
	require.Equal(t, event.Header, events[0].Kind)
	assert.Equal(t, http.StatusOK, events[0].Response.StatusCode)
	assert.Equal(t, `"v1"`, events[0].Response.Header.Get("ETag"))
	assert.Equal(t, event.Final, events[len(events)-1].Kind)
	for _, ev := range events {
		assert.Equal(t, id, ev.TransactionID)
	}
	assert.Equal(t, payload, joinBodies(events))
	require.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTransactionBackpressure(t *testing.T) {
	payload := body(64 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	const budget = 1024
	const readSize = 512
	s := NewHTTPSession(nil, WithReadSize(readSize))
	q := event.NewQueue(budget)
	_, err := s.StartTransaction(Request{URL: srv.URL, Sink: q})
	require.NoError(t, err)

	var events []event.Event
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		assert.LessOrEqual(t, q.Bytes(), budget+readSize)
		ev, ok := q.Pop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		events = append(events, ev)
		if ev.Kind == event.Final {
			break
		}
	}
	require.NotEmpty(t, events)
	require.Equal(t, event.Final, events[len(events)-1].Kind)
	assert.Equal(t, payload, joinBodies(events), "no data may be dropped under backpressure")
}

func TestHardCancelBeforeHeaders(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPSession(nil)
	q := event.NewQueue(0)
	id, err := s.StartTransaction(Request{URL: srv.URL, Sink: q})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	s.CancelTransaction(id, true)
	events := collect(t, q, 5*time.Second)
	assert.Equal(t, event.Final, events[len(events)-1].Kind)
}

func TestPausedThenGracefulCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "line %d\n", i); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	s := NewHTTPSession(nil)
	q := event.NewQueue(0)
	id, err := s.StartTransaction(Request{URL: srv.URL, Sink: q})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Len() > 0 }, 2*time.Second, time.Millisecond)
	s.PauseTransaction(id)
	s.CancelTransaction(id, false)

	events := collect(t, q, 5*time.Second)
	assert.Equal(t, event.Header, events[0].Kind)
	assert.Equal(t, event.Final, events[len(events)-1].Kind)
}

func TestDisconnectStopsDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body(1024))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewHTTPSession(nil)
	q := event.NewQueue(0)
	id, err := s.StartTransaction(Request{URL: srv.URL, Sink: q})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Len() > 0 }, 2*time.Second, time.Millisecond)
	s.DisconnectTransaction(id)
	require.Eventually(t, func() bool { return s.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	for {
		ev, ok := q.Pop()
		if !ok {
			break
		}
		assert.NotEqual(t, event.Final, ev.Kind)
		assert.NotEqual(t, event.AbortWithError, ev.Kind)
	}
}

func TestUntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := NewHTTPSession(utils.NewAgentHTTPClient(utils.HTTPClientConfig{}))
	q := event.NewQueue(0)
	_, err := s.StartTransaction(Request{URL: srv.URL, Sink: q})
	require.NoError(t, err)

	events := collect(t, q, 5*time.Second)
	last := events[len(events)-1]
	require.Equal(t, event.AbortWithError, last.Kind)
	assert.Equal(t, dlerr.SSLFail, last.Code)
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	s := NewHTTPSession(nil)
	q := event.NewQueue(0)
	_, err := s.StartTransaction(Request{URL: addr, Sink: q})
	require.NoError(t, err)

	events := collect(t, q, 5*time.Second)
	last := events[len(events)-1]
	require.Equal(t, event.AbortWithError, last.Kind)
	assert.Equal(t, dlerr.NetworkFail, last.Code)
}

func TestStartTransactionErrors(t *testing.T) {
	s := NewHTTPSession(nil)
	_, err := s.StartTransaction(Request{URL: "http://example.com"})
	assert.Equal(t, dlerr.InvalidArgument, dlerr.CodeOf(err))

	_, err = s.StartTransaction(Request{URL: "http://[::1", Sink: event.NewQueue(0)})
	assert.Equal(t, dlerr.InvalidURL, dlerr.CodeOf(err))
}

func TestUnknownTransactionIsNoop(t *testing.T) {
	s := NewHTTPSession(nil)
	s.CancelTransaction("missing", true)
	s.DisconnectTransaction("missing")
	s.PauseTransaction("missing")
	s.UnpauseTransaction("missing")
	assert.Zero(t, s.Active())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want dlerr.Code
	}{
		{"deadline", context.DeadlineExceeded, dlerr.HTTPTimeout},
		{"unknown authority", fmt.Errorf("get: %w", x509.UnknownAuthorityError{}), dlerr.SSLFail},
		{"hostname", x509.HostnameError{Host: "x"}, dlerr.SSLFail},
		{"other", errors.New("connection reset"), dlerr.NetworkFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}
