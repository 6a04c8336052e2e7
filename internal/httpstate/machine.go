package httpstate

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/event"
	"github.com/tanq16/danzo-agent/internal/registry"
	"github.com/tanq16/danzo-agent/internal/storage"
	"github.com/tanq16/danzo-agent/internal/transport"
	"github.com/tanq16/danzo-agent/internal/utils"
)

type Config struct {
	UserAgent        string
	Proxy            *url.URL
	StageBytes       int
	RetryWait        time.Duration
	MaxRetryWait     time.Duration
	MaxRetries       int
	MaxRedirects     int
	ProgressInterval time.Duration
	DiskSafetyMargin int64
}

func DefaultConfig() Config {
	return Config{
		UserAgent:        utils.DefaultUserAgent,
		StageBytes:       storage.DefaultStageSize,
		RetryWait:        2 * time.Second,
		MaxRetryWait:     30 * time.Second,
		MaxRetries:       5,
		MaxRedirects:     10,
		ProgressInterval: time.Second,
		DiskSafetyMargin: 10 * 1024 * 1024,
	}
}

// Params is everything one download's machine is built from.
type Params struct {
	Handle    int
	Queue     *event.Queue
	Request   registry.Request
	UserData  any
	Session   transport.Session
	Callbacks Callbacks
	Config    Config
	// OnTransition, when set, observes every state change after it happened.
	OnTransition func(State)
}

// Machine drives one download. Run owns the loop; Cancel, Suspend, Resume and
// Abort may be called from any goroutine.
type Machine struct {
	handle   int
	queue    *event.Queue
	session  transport.Session
	cb       Callbacks
	cfg      Config
	req      registry.Request
	userData any
	hook     func(State)
	log      zerolog.Logger

	tx       *Transaction
	writer   *storage.Writer
	file     storage.FileRecord
	resolved bool
	// claimed is the saved path reserved for this download until exit.
	claimed  string
	progress rate.Sometimes
	// keepPartial leaves the temp file on disk when the download ends unfinished.
	keepPartial bool
}

func New(p Params) (*Machine, error) {
	u, err := url.Parse(p.Request.URL)
	if err != nil {
		return nil, dlerr.Wrap(dlerr.InvalidURL, "machine", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, dlerr.Newf(dlerr.InvalidURL, "machine", "unsupported scheme %q", u.Scheme)
	}
	if p.Queue == nil || p.Session == nil {
		return nil, dlerr.New(dlerr.InvalidArgument, "machine")
	}
	cfg := p.Config
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	if cfg.MaxRetryWait < cfg.RetryWait {
		cfg.MaxRetryWait = max(def.MaxRetryWait, cfg.RetryWait)
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	m := &Machine{
		handle:      p.Handle,
		queue:       p.Queue,
		session:     p.Session,
		cb:          p.Callbacks,
		cfg:         cfg,
		req:         p.Request,
		userData:    p.UserData,
		hook:        p.OnTransition,
		log:         utils.GetDownloadLogger("httpstate", p.Handle),
		tx:          newTransaction(u, p.Request.ETag),
		writer:      storage.NewWriter(cfg.StageBytes),
		progress:    rate.Sometimes{Interval: cfg.ProgressInterval},
	}
	m.file.TempPath = p.Request.TempPath
	return m, nil
}

func (m *Machine) State() State { return m.tx.State() }

func (m *Machine) transition(to State) {
	from := m.tx.set(to)
	if from == to {
		return
	}
	m.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
	if m.hook != nil {
		m.hook(to)
	}
}

// Run drives the download until it reaches a terminal state and returns the
// stored result.
func (m *Machine) Run() error {
	for {
		handled := m.handleAnyInput()
		state := m.tx.State()
		if state.Terminal() {
			break
		}
		switch state {
		case ReadyToDownload:
			m.requestDownload()
		case Redirected:
			m.followRedirect()
		case RequestResume:
			m.prepareResume()
		case WaitForNetworkError:
			m.waitForNetwork()
		default:
			if handled {
				continue
			}
			if m.queue.Closed() {
				m.onAbort()
				continue
			}
			m.queue.WaitForData()
		}
	}
	m.exit()
	return m.tx.Err
}

// Cancel requests cancellation. It fails only when the download is already over.
func (m *Machine) Cancel() error {
	if m.tx.State().Terminal() {
		return dlerr.New(dlerr.InvalidState, "cancel")
	}
	return m.pushControl(event.Cancel, "cancel")
}

func (m *Machine) Suspend() error {
	switch st := m.tx.State(); {
	case st == RequestPause || st == Paused:
		return dlerr.New(dlerr.AlreadySuspended, "suspend")
	case st == RequestCancel || st.Terminal():
		return dlerr.Newf(dlerr.InvalidState, "suspend", "download is %s", st)
	}
	return m.pushControl(event.Suspend, "suspend")
}

func (m *Machine) Resume() error {
	switch st := m.tx.State(); st {
	case Paused:
		return m.pushControl(event.Resume, "resume")
	case ReadyToDownload, DownloadRequested, DownloadStarted, Downloading, Redirected,
		RequestResume, Resumed, WaitForNetworkError:
		return dlerr.New(dlerr.AlreadyResumed, "resume")
	default:
		return dlerr.Newf(dlerr.InvalidState, "resume", "download is %s", st)
	}
}

// Abort ends the download from any state. Used at shutdown.
func (m *Machine) Abort() {
	m.pushControl(event.Abort, "abort")
}

// Abandon ends a download whose loop never ran, reporting it as aborted
// without contacting the server. It replaces Run.
func (m *Machine) Abandon() {
	m.onAbort()
	m.exit()
}

func (m *Machine) pushControl(kind event.Kind, op string) error {
	if !m.queue.Push(event.Control(kind)) {
		return dlerr.Newf(dlerr.InvalidState, op, "download is closing")
	}
	m.tx.signal()
	return nil
}

func (m *Machine) handleAnyInput() bool {
	ev, ok := m.queue.Pop()
	if !ok {
		return false
	}
	if !ev.Kind.IsControl() && ev.TransactionID != m.tx.boundID() {
		m.log.Debug().Str("event", ev.Kind.String()).Str("tx", ev.TransactionID).Msg("Dropped stale event")
		return true
	}
	switch ev.Kind {
	case event.Cancel:
		m.onCancel()
	case event.Suspend:
		m.onSuspend()
	case event.Resume:
		m.onResume()
	case event.Abort:
		m.onAbort()
	case event.NetDisconnected:
		if id := m.tx.boundID(); id != "" {
			m.onAbortWithError(dlerr.NetworkFail)
		}
	case event.Header:
		m.onHeader(ev.Response)
	case event.BodyChunk:
		m.onChunk(ev.Body)
	case event.Final:
		m.onFinal()
	case event.AbortWithError:
		m.onAbortWithError(ev.Code)
	}
	return true
}

func (m *Machine) onCancel() {
	switch st := m.tx.State(); st {
	case ReadyToDownload, Redirected, WaitForNetworkError, Paused, RequestResume:
		m.tx.Err = dlerr.New(dlerr.UserCanceled, "cancel")
		m.transition(Canceled)
	case DownloadRequested:
		m.session.CancelTransaction(m.tx.boundID(), true)
		m.transition(RequestCancel)
	case DownloadStarted, Resumed, Downloading, RequestPause:
		m.session.CancelTransaction(m.tx.boundID(), false)
		m.transition(RequestCancel)
	}
}

func (m *Machine) onSuspend() {
	switch st := m.tx.State(); st {
	case ReadyToDownload, Redirected, WaitForNetworkError, RequestResume:
		m.pauseDone()
	case DownloadRequested, DownloadStarted, Resumed, Downloading:
		id := m.tx.boundID()
		m.session.PauseTransaction(id)
		m.session.CancelTransaction(id, st == DownloadRequested)
		m.transition(RequestPause)
	}
}

func (m *Machine) onResume() {
	if m.tx.State() == Paused {
		m.transition(RequestResume)
	}
}

func (m *Machine) onAbort() {
	if id := m.tx.unbind(); id != "" {
		m.session.DisconnectTransaction(id)
	}
	// a paused file, or a client's file no response has touched yet, stays
	// for a later resume
	if m.tx.State() == Paused || (m.req.TempPath != "" && !m.resolved) {
		m.keepPartial = true
	}
	m.discardFile()
	m.tx.Err = dlerr.New(dlerr.Aborted, "abort")
	m.transition(Aborted)
}

func (m *Machine) onHeader(resp *event.Response) {
	if resp == nil || m.tx.State() != DownloadRequested {
		return
	}
	m.tx.HTTPStatus = resp.StatusCode
	m.log.Debug().Int("status", resp.StatusCode).Msg("Response header received")
	switch code := resp.StatusCode; {
	case code >= 200 && code <= 203:
		m.acceptFull(resp.Header)
	case code == http.StatusPartialContent:
		m.acceptPartial(resp.Header)
	case code == 300 || code == 301 || code == 302 || code == 303 || code == 305 ||
		code == 306 || code == 307 || code == 308:
		m.redirect(resp.Header)
	case code == 100 || code == 101 || code == 102 || code == 204 || code == 304:
		m.failTransaction(dlerr.Newf(dlerr.ServerRespondButSendNoContent, "header", "status %d", code))
	default:
		m.failTransaction(dlerr.Newf(dlerr.UnreachableServer, "header", "status %d", code))
	}
}

func (m *Machine) acceptFull(h http.Header) {
	if m.tx.resumeOffset >= 0 {
		m.log.Debug().Int64("offset", m.tx.resumeOffset).Msg("Server sent the full body, dropping partial file")
	}
	m.tx.resumeOffset = -1
	m.tx.explicitResume = false
	m.tx.resumedRun = false
	m.tx.dropValidator()
	m.tx.cacheHeaders(h)
	if err := m.resolveFile(h); err != nil {
		m.failTransaction(err)
		return
	}
	if err := storage.Truncate(m.file.TempPath); err != nil {
		m.failTransaction(err)
		return
	}
	if err := m.checkFreeSpace(m.tx.ContentLength); err != nil {
		m.failTransaction(err)
		return
	}
	m.tx.Received = 0
	m.tx.failures = 0
	m.transition(DownloadStarted)
	m.notifyStarted()
}

func (m *Machine) acceptPartial(h http.Header) {
	offset := m.tx.resumeOffset
	if offset < 0 {
		m.failTransaction(dlerr.Newf(dlerr.UnreachableServer, "header", "unrequested partial content"))
		return
	}
	if etag := h.Get("ETag"); m.tx.ETag != "" && etag != "" && etag != m.tx.ETag {
		m.log.Warn().Str("cached", m.tx.ETag).Str("received", etag).Msg("ETag changed, restarting")
		m.resumeMismatch()
		return
	}
	start, _, total, err := contentRange(h.Get("Content-Range"))
	if err != nil || start != offset {
		m.log.Warn().Int64("offset", offset).Str("range", h.Get("Content-Range")).Msg("Unexpected content range, restarting")
		m.resumeMismatch()
		return
	}
	remaining := contentLength(h)
	m.tx.cacheHeaders(h)
	switch {
	case remaining >= 0:
		m.tx.ContentLength = remaining + offset
	default:
		m.tx.ContentLength = total
	}
	if err := m.resolveFile(h); err != nil {
		m.failTransaction(err)
		return
	}
	if err := m.checkFreeSpace(remaining); err != nil {
		m.failTransaction(err)
		return
	}
	m.tx.Received = offset
	m.tx.failures = 0
	m.tx.resumedRun = true
	next := DownloadStarted
	if m.tx.explicitResume {
		next = Resumed
	}
	m.tx.explicitResume = false
	m.tx.resumeOffset = -1
	m.transition(next)
	m.notifyStarted()
}

// resumeMismatch rejects a 206 that does not continue the bytes on disk. The
// partial file stays untouched; without a validator the retry starts over.
func (m *Machine) resumeMismatch() {
	m.tx.dropValidator()
	m.tx.resumeOffset = -1
	if id := m.tx.unbind(); id != "" {
		m.session.DisconnectTransaction(id)
	}
	m.networkFail(dlerr.New(dlerr.NetworkFail, "resume"))
}

func (m *Machine) redirect(h http.Header) {
	location := h.Get("Location")
	if location == "" {
		m.failTransaction(dlerr.Newf(dlerr.UnreachableServer, "redirect", "status %d without location", m.tx.HTTPStatus))
		return
	}
	m.tx.redirects++
	if m.tx.redirects > m.cfg.MaxRedirects {
		m.failTransaction(dlerr.Newf(dlerr.TooManyRedirects, "redirect", "more than %d", m.cfg.MaxRedirects))
		return
	}
	target, err := m.tx.URL.Parse(location)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		m.failTransaction(dlerr.Newf(dlerr.InvalidURL, "redirect", "location %q", location))
		return
	}
	m.tx.Location = target.String()
	m.tx.URL = target
	if id := m.tx.unbind(); id != "" {
		m.session.DisconnectTransaction(id)
	}
	m.log.Debug().Str("location", m.tx.Location).Msg("Redirected")
	m.transition(Redirected)
}

func (m *Machine) onChunk(body []byte) {
	st := m.tx.State()
	switch st {
	case DownloadStarted, Resumed, Downloading, RequestPause:
	default:
		return
	}
	if !m.resolved {
		// a pause overtook the header; these bytes have nowhere to go
		return
	}
	if !m.writer.IsOpen() {
		if err := m.writer.Open(m.file.TempPath); err != nil {
			m.failTransaction(err)
			return
		}
	}
	if err := m.writer.WriteChunk(body); err != nil {
		m.failTransaction(err)
		return
	}
	m.tx.Received += int64(len(body))
	switch st {
	case DownloadStarted, Resumed:
		m.transition(Downloading)
		m.notifyProgress()
	case RequestPause:
		m.notifyProgress()
	case Downloading:
		if m.writer.Updated() {
			m.progress.Do(m.notifyProgress)
		}
	}
}

func (m *Machine) onFinal() {
	st := m.tx.State()
	m.tx.unbind()
	switch st {
	case DownloadStarted, Resumed, Downloading:
		m.completeFile()
	case RequestPause:
		m.pauseDone()
	case RequestCancel:
		m.cancelDone()
	case DownloadRequested:
		m.networkFail(dlerr.Newf(dlerr.NetworkFail, "final", "transfer ended without a response"))
	}
}

func (m *Machine) onAbortWithError(code dlerr.Code) {
	if id := m.tx.unbind(); id != "" {
		m.session.DisconnectTransaction(id)
	}
	err := dlerr.New(code, "transfer")
	switch m.tx.State() {
	case RequestPause:
		m.pauseDone()
	case RequestCancel:
		m.cancelDone()
	default:
		if code == dlerr.NetworkFail {
			m.networkFail(err)
			return
		}
		m.discardFile()
		m.tx.Err = err
		m.transition(Aborted)
	}
}

func (m *Machine) completeFile() {
	if !m.writer.IsOpen() {
		if err := m.writer.Open(m.file.TempPath); err != nil {
			m.fail(err)
			return
		}
	}
	if err := m.writer.Complete(); err != nil {
		m.fail(err)
		return
	}
	if !m.tx.resumedRun && m.tx.ContentLength >= 0 {
		size, err := storage.PartialSize(m.file.TempPath)
		if err != nil {
			m.fail(err)
			return
		}
		if size != m.tx.ContentLength {
			m.fail(dlerr.Newf(dlerr.MismatchContentSize, "complete", "got %d bytes, expected %d", size, m.tx.ContentLength))
			return
		}
	}
	saved, err := storage.Finalize(m.file.TempPath, m.file.SavedPath)
	if err != nil {
		m.fail(err)
		return
	}
	m.file.SavedPath = saved
	m.tx.Err = nil
	m.transition(DownloadFinish)
}

// pauseDone settles a pause: the partial file is flushed, synced and kept.
func (m *Machine) pauseDone() {
	if err := m.writer.Complete(); err != nil {
		m.fail(err)
		return
	}
	m.transition(Paused)
	m.notifyPaused()
}

func (m *Machine) cancelDone() {
	m.discardFile()
	m.tx.Err = dlerr.New(dlerr.UserCanceled, "cancel")
	m.transition(Canceled)
}

// networkFail keeps what was received and schedules a retry, or gives up once
// retries are spent.
func (m *Machine) networkFail(err error) {
	m.tx.Err = err
	if cerr := m.writer.Complete(); cerr != nil {
		m.fail(cerr)
		return
	}
	m.tx.failures++
	if m.tx.failures > m.cfg.MaxRetries {
		m.log.Error().Err(err).Int("attempts", m.tx.failures).Msg("Retries exhausted")
		m.transition(Failed)
		return
	}
	m.log.Warn().Err(err).Int("attempt", m.tx.failures).Msg("Network failure, retrying")
	m.transition(WaitForNetworkError)
}

// failTransaction ends the download while a transport transaction is bound.
func (m *Machine) failTransaction(err error) {
	if id := m.tx.unbind(); id != "" {
		m.session.DisconnectTransaction(id)
	}
	m.fail(err)
}

func (m *Machine) fail(err error) {
	m.discardFile()
	m.tx.Err = err
	m.log.Error().Err(err).Msg("Download failed")
	m.transition(Failed)
}

func (m *Machine) discardFile() {
	if err := m.writer.Discard(); err != nil {
		m.log.Debug().Err(err).Msg("Closing partial file")
	}
}

// requestDownload starts a transport transaction for the current URL.
func (m *Machine) requestDownload() {
	req := transport.Request{
		URL:    m.tx.URL.String(),
		Method: m.tx.Method,
		Header: m.buildHeader(),
		Proxy:  m.cfg.Proxy,
		Sink:   m.queue,
	}
	id, err := m.session.StartTransaction(req)
	if err != nil {
		if dlerr.CodeOf(err) == dlerr.NetworkFail {
			m.networkFail(err)
			return
		}
		m.fail(err)
		return
	}
	m.tx.bind(id, DownloadRequested)
	m.log.Debug().Str("tx", id).Str("url", req.URL).Msg("Transaction bound")
	if m.hook != nil {
		m.hook(DownloadRequested)
	}
}

func (m *Machine) buildHeader() http.Header {
	h := http.Header{}
	h.Set("User-Agent", m.cfg.UserAgent)
	h.Set("Accept-Language", utils.DefaultAcceptLanguage)
	h.Set("Accept-Charset", utils.DefaultAcceptCharset)
	for _, header := range utils.ParseHeaderLines(m.req.Headers) {
		h.Set(header.Field, header.Value)
	}
	m.tx.resumeOffset = -1
	if m.file.TempPath != "" {
		offset, err := storage.PartialSize(m.file.TempPath)
		validator := m.tx.validator()
		if err == nil && offset > 0 && validator != "" {
			h.Set("Range", fmt.Sprintf("bytes=%d-", offset))
			h.Set("If-Range", validator)
			m.tx.resumeOffset = offset
		}
	}
	m.tx.ReqHeader = h
	return h
}

// followRedirect reuses the transaction for the target captured from Location.
func (m *Machine) followRedirect() {
	m.transition(ReadyToDownload)
}

func (m *Machine) prepareResume() {
	m.tx.explicitResume = true
	m.tx.failures = 0
	m.transition(ReadyToDownload)
}

func (m *Machine) waitForNetwork() {
	m.tx.drainWake()
	if m.queue.HasControl() {
		return
	}
	wait := min(m.cfg.RetryWait*time.Duration(m.tx.failures), m.cfg.MaxRetryWait)
	timer := time.NewTimer(wait)
	select {
	case <-m.tx.wake:
	case <-timer.C:
	}
	timer.Stop()
	if m.queue.HasControl() {
		return
	}
	if m.tx.State() == WaitForNetworkError {
		m.transition(ReadyToDownload)
	}
}

func (m *Machine) resolveFile(h http.Header) error {
	if m.resolved {
		return nil
	}
	file, err := storage.ResolveFileRecord(storage.ResolveInput{
		URL:         m.tx.URL,
		Header:      h,
		InstallDir:  m.req.InstallPath,
		FileName:    m.req.FileName,
		TempPath:    m.file.TempPath,
		ContentType: m.tx.ContentType,
	})
	if err != nil {
		return err
	}
	m.file = file
	m.claimed = file.SavedPath
	m.resolved = true
	m.log.Debug().Str("saved", file.SavedPath).Str("temp", file.TempPath).Msg("File resolved")
	return nil
}

func (m *Machine) checkFreeSpace(need int64) error {
	if need <= 0 {
		return nil
	}
	free, err := storage.FreeSpace(m.req.InstallPath)
	if err != nil {
		if !errors.Is(err, errors.ErrUnsupported) {
			m.log.Debug().Err(err).Msg("Free space check failed")
		}
		return nil
	}
	if uint64(need+m.cfg.DiskSafetyMargin) > free {
		return dlerr.Newf(dlerr.DiskFull, "header", "need %s, have %s",
			utils.FormatBytes(uint64(need)), utils.FormatBytes(free))
	}
	return nil
}

func (m *Machine) exit() {
	st := m.tx.State()
	m.discardFile()
	if st != DownloadFinish && !m.keepPartial {
		if err := storage.Remove(m.file.TempPath); err != nil {
			m.log.Warn().Err(err).Str("path", m.file.TempPath).Msg("Could not remove partial file")
		}
	}
	storage.Release(m.claimed)
	m.log.Debug().Str("state", st.String()).Int64("received", m.tx.Received).Msg("Download loop finished")
	m.notifyFinished()
}
