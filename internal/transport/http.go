package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/event"
	"github.com/tanq16/danzo-agent/internal/utils"
)

const DefaultReadSize = 32 * 1024

type SessionOption func(*HTTPSession)

// WithReadSize sets the largest body chunk a transaction delivers at once.
func WithReadSize(n int) SessionOption {
	return func(s *HTTPSession) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// HTTPSession runs transactions over net/http, one reader goroutine each.
// The client must not follow redirects.
type HTTPSession struct {
	client   *http.Client
	readSize int
	log      zerolog.Logger

	mu        sync.Mutex
	transfers map[string]*transfer
}

func NewHTTPSession(client *http.Client, opts ...SessionOption) *HTTPSession {
	if client == nil {
		client = utils.NewAgentHTTPClient(utils.HTTPClientConfig{})
	}
	s := &HTTPSession{
		client:    client,
		readSize:  DefaultReadSize,
		log:       utils.GetLogger("transport"),
		transfers: make(map[string]*transfer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type transfer struct {
	id     string
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	cond         *sync.Cond
	paused       bool
	canceled     bool
	hard         bool
	disconnected bool
}

func (s *HTTPSession) StartTransaction(req Request) (string, error) {
	if req.Sink == nil {
		return "", dlerr.New(dlerr.InvalidArgument, "start transaction")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, cancel := context.WithCancel(context.Background())
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		cancel()
		return "", dlerr.Wrap(dlerr.InvalidURL, "start transaction", err)
	}
	for field, values := range req.Header {
		httpReq.Header[field] = append([]string(nil), values...)
	}

	t := &transfer{
		id:     uuid.NewString(),
		sink:   req.Sink,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)

	s.mu.Lock()
	s.transfers[t.id] = t
	s.mu.Unlock()

	s.log.Debug().Str("tx", t.id).Str("method", method).Str("url", req.URL).Msg("Transaction started")
	go s.run(t, httpReq, s.clientFor(req))
	return t.id, nil
}

// clientFor returns a client routed through req.Proxy when one is set.
func (s *HTTPSession) clientFor(req Request) *http.Client {
	if req.Proxy == nil {
		return s.client
	}
	base, ok := s.client.Transport.(*http.Transport)
	if !ok {
		return s.client
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(req.Proxy)
	c := *s.client
	c.Transport = tr
	return &c
}

func (s *HTTPSession) run(t *transfer, req *http.Request, client *http.Client) {
	defer s.forget(t.id)
	defer t.cancel()

	resp, err := client.Do(req)
	if err != nil {
		s.finish(t, err)
		return
	}
	defer resp.Body.Close()

	head := &event.Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone()}
	if !t.deliver(event.HeaderReceived(t.id, head)) {
		return
	}

	buf := make([]byte, s.readSize)
	for {
		if !t.waitUnpaused() {
			s.finish(t, nil)
			return
		}
		n, err := resp.Body.Read(buf)
		if n > 0 && !t.dropsData() {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !t.deliver(event.Chunk(t.id, chunk)) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			s.finish(t, nil)
			return
		}
		if err != nil {
			s.finish(t, err)
			return
		}
	}
}

// finish delivers the closing event. A canceled transfer always ends in Final.
func (s *HTTPSession) finish(t *transfer, err error) {
	if t.isCanceled() || err == nil {
		t.deliver(event.Finished(t.id))
		return
	}
	code := classify(err)
	s.log.Debug().Str("tx", t.id).Err(err).Str("code", code.String()).Msg("Transaction failed")
	t.deliver(event.Failed(t.id, code))
}

func (s *HTTPSession) lookup(id string) *transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transfers[id]
	if t == nil {
		s.log.Debug().Str("tx", id).Msg("Unknown transaction")
	}
	return t
}

func (s *HTTPSession) forget(id string) {
	s.mu.Lock()
	delete(s.transfers, id)
	s.mu.Unlock()
}

func (s *HTTPSession) CancelTransaction(id string, hard bool) {
	t := s.lookup(id)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.canceled = true
	t.hard = t.hard || hard
	t.cond.Broadcast()
	t.mu.Unlock()
	t.cancel()
}

func (s *HTTPSession) DisconnectTransaction(id string) {
	t := s.lookup(id)
	if t == nil {
		return
	}
	t.mu.Lock()
	if !t.disconnected {
		t.disconnected = true
		close(t.done)
	}
	t.cond.Broadcast()
	t.mu.Unlock()
	t.cancel()
}

func (s *HTTPSession) PauseTransaction(id string) {
	if t := s.lookup(id); t != nil {
		t.mu.Lock()
		t.paused = true
		t.mu.Unlock()
	}
}

func (s *HTTPSession) UnpauseTransaction(id string) {
	if t := s.lookup(id); t != nil {
		t.mu.Lock()
		t.paused = false
		t.cond.Broadcast()
		t.mu.Unlock()
	}
}

// Active counts transactions whose reader is still running.
func (s *HTTPSession) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

// waitUnpaused holds the reader while paused. It returns false once the
// transfer is canceled or disconnected.
func (t *transfer) waitUnpaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.paused && !t.canceled && !t.disconnected {
		t.cond.Wait()
	}
	return !t.canceled && !t.disconnected
}

func (t *transfer) isCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// dropsData reports whether bytes read now should be thrown away.
func (t *transfer) dropsData() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hard || t.disconnected
}

// deliver pushes ev, waiting for room while the sink is full. It gives up when
// the transfer is disconnected or the sink closes.
func (t *transfer) deliver(ev event.Event) bool {
	for {
		select {
		case <-t.done:
			return false
		default:
		}
		if t.sink.Push(ev) {
			return true
		}
		if t.sink.Closed() {
			return false
		}
		select {
		case <-t.sink.Room():
		case <-t.done:
			return false
		}
	}
}

func classify(err error) dlerr.Code {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return dlerr.HTTPTimeout
	}
	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return dlerr.SSLFail
	}
	return dlerr.NetworkFail
}
