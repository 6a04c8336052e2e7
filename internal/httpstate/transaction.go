package httpstate

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Transaction is the HTTP side of one download. It outlives individual
// transport transactions: redirects, retries and resumes rebind it in place.
//
// state and txID are shared with client goroutines and guarded by mu. All other
// fields belong to the download loop.
type Transaction struct {
	mu    sync.Mutex
	state State
	txID  string
	wake  chan struct{}

	URL        *url.URL
	Method     string
	ReqHeader  http.Header
	RespHeader http.Header

	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  string
	Location      string
	Received      int64
	HTTPStatus    int
	Err           error

	redirects int
	failures  int

	// resumeOffset is the Range start of the outstanding request, or -1.
	resumeOffset int64
	// explicitResume marks a request issued by a client resume.
	explicitResume bool
	// resumedRun is set once a 206 was accepted; the size check is skipped then.
	resumedRun bool
}

func newTransaction(u *url.URL, etag string) *Transaction {
	return &Transaction{
		state:         ReadyToDownload,
		wake:          make(chan struct{}, 1),
		URL:           u,
		Method:        http.MethodGet,
		ContentLength: -1,
		ETag:          etag,
		resumeOffset:  -1,
	}
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// set moves to state and returns the previous one.
func (t *Transaction) set(state State) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.state
	t.state = state
	return from
}

func (t *Transaction) bind(id string, state State) {
	t.mu.Lock()
	t.txID = id
	t.state = state
	t.mu.Unlock()
}

// unbind forgets the transport transaction and returns its id.
func (t *Transaction) unbind() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.txID
	t.txID = ""
	return id
}

func (t *Transaction) boundID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txID
}

// signal cuts a backoff wait short.
func (t *Transaction) signal() {
	t.mu.Lock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
	t.mu.Unlock()
}

func (t *Transaction) drainWake() {
	select {
	case <-t.wake:
	default:
	}
}

// validator is what If-Range carries on a resume.
func (t *Transaction) validator() string {
	if t.ETag != "" {
		return t.ETag
	}
	return t.LastModified
}

func (t *Transaction) dropValidator() {
	t.ETag = ""
	t.LastModified = ""
}

// cacheHeaders records the response metadata a later resume revalidates.
func (t *Transaction) cacheHeaders(h http.Header) {
	t.RespHeader = h
	t.ContentType = ""
	if ct := h.Get("Content-Type"); ct != "" {
		if _, _, err := mime.ParseMediaType(ct); err == nil {
			t.ContentType = ct
		}
	}
	t.ContentLength = contentLength(h)
	if etag := h.Get("ETag"); etag != "" {
		t.ETag = etag
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		t.LastModified = lm
	}
}

func contentLength(h http.Header) int64 {
	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// contentRange parses "bytes start-end/total". total is -1 when given as "*".
func contentRange(value string) (start, end, total int64, err error) {
	rangeSpec, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("unsupported content range %q", value)
	}
	rng, size, ok := strings.Cut(rangeSpec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed content range %q", value)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed content range %q", value)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, err
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, err
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, err
		}
	}
	return start, end, total, nil
}
