package agent

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/httpstate"
	"github.com/tanq16/danzo-agent/internal/registry"
	"github.com/tanq16/danzo-agent/internal/transport"
	mock_transport "github.com/tanq16/danzo-agent/internal/transport/mocks"
	"github.com/tanq16/danzo-agent/internal/utils"
)

type recorder struct {
	started  chan StartedInfo
	progress chan ProgressInfo
	paused   chan PausedInfo
	finished chan FinishedInfo
}

func newRecorder() *recorder {
	return &recorder{
		started:  make(chan StartedInfo, 16),
		progress: make(chan ProgressInfo, 256),
		paused:   make(chan PausedInfo, 16),
		finished: make(chan FinishedInfo, 16),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStarted: func(info StartedInfo) { r.started <- info },
		OnProgress: func(info ProgressInfo) {
			select {
			case r.progress <- info:
			default:
			}
		},
		OnPaused:   func(info PausedInfo) { r.paused <- info },
		OnFinished: func(info FinishedInfo) { r.finished <- info },
	}
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.InstallPath = t.TempDir()
	cfg.DiskSafetyMargin = 0
	cfg.ProgressInterval = time.Millisecond
	cfg.StageBytes = 128
	return cfg
}

func newTestAgent(t *testing.T, cfg Config, rec *recorder, opts ...Option) *Agent {
	t.Helper()
	utils.DisableLogging()
	a, err := New(cfg, rec.callbacks(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

// idleSession accepts every transaction and never answers it.
func idleSession(t *testing.T) (*mock_transport.MockSession, <-chan string) {
	ctrl := gomock.NewController(t)
	session := mock_transport.NewMockSession(ctrl)
	started := make(chan string, 16)
	var n atomic.Int32
	session.EXPECT().StartTransaction(gomock.Any()).DoAndReturn(func(transport.Request) (string, error) {
		id := "tx-" + strconv.Itoa(int(n.Add(1)))
		started <- id
		return id, nil
	}).AnyTimes()
	session.EXPECT().DisconnectTransaction(gomock.Any()).AnyTimes()
	session.EXPECT().CancelTransaction(gomock.Any(), gomock.Any()).AnyTimes()
	session.EXPECT().PauseTransaction(gomock.Any()).AnyTimes()
	return session, started
}

func TestStartValidation(t *testing.T) {
	session, _ := idleSession(t)
	a := newTestAgent(t, testConfig(t), newRecorder(), WithSession(session))
	notDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0644))

	tests := []struct {
		name string
		url  string
		opts ExtensionOptions
		want dlerr.Code
	}{
		{"empty url", "", ExtensionOptions{}, dlerr.InvalidArgument},
		{"blank url", "   ", ExtensionOptions{}, dlerr.InvalidArgument},
		{"ftp scheme", "ftp://x/y.mp3", ExtensionOptions{}, dlerr.InvalidURL},
		{"no scheme", "x/y.mp3", ExtensionOptions{}, dlerr.InvalidURL},
		{"missing install path", "http://x/y", ExtensionOptions{InstallPath: filepath.Join(notDir, "nope")}, dlerr.InvalidInstallPath},
		{"install path is a file", "http://x/y", ExtensionOptions{InstallPath: notDir}, dlerr.InvalidInstallPath},
		{"etag without temp file", "http://x/y", ExtensionOptions{ETag: `"v1"`}, dlerr.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.StartDownloadWithExtension(tt.url, tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.want, dlerr.CodeOf(err))
		})
	}
	assert.Empty(t, a.Active())
}

func TestUnsupportedSchemeConsumesNoSlot(t *testing.T) {
	session, started := idleSession(t)
	cfg := testConfig(t)
	cfg.MaxDownloads = 1
	a := newTestAgent(t, cfg, newRecorder(), WithSession(session))

	_, err := a.StartDownload("ftp://x/y.mp3")
	assert.ErrorIs(t, err, dlerr.ErrInvalidURL)
	assert.Empty(t, a.Active())

	h, err := a.StartDownload("http://x/y.mp3")
	require.NoError(t, err)
	receive(t, started, "transaction")
	assert.Equal(t, []int{h}, a.Active())
}

func TestMaxDownloads(t *testing.T) {
	session, started := idleSession(t)
	cfg := testConfig(t)
	cfg.MaxDownloads = 2
	rec := newRecorder()
	a := newTestAgent(t, cfg, rec, WithSession(session))

	h1, err := a.StartDownload("http://x/a")
	require.NoError(t, err)
	h2, err := a.StartDownload("http://x/b")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	receive(t, started, "first transaction")
	receive(t, started, "second transaction")

	_, err = a.StartDownload("http://x/c")
	require.Error(t, err)
	assert.Equal(t, dlerr.AlreadyMaxDownload, dlerr.CodeOf(err))

	st, err := a.State(h1)
	require.NoError(t, err)
	assert.Equal(t, StateNew, st)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	for range 2 {
		info := receive(t, rec.finished, "finish")
		assert.Equal(t, dlerr.Aborted, info.Code)
	}
	assert.Empty(t, a.Active())

	_, err = a.StartDownload("http://x/d")
	assert.Equal(t, dlerr.InvalidState, dlerr.CodeOf(err))
}

func TestAbandonedWorkerStillFinishes(t *testing.T) {
	// no transaction may be started for an abandoned download
	session := mock_transport.NewMockSession(gomock.NewController(t))
	cfg := testConfig(t)
	rec := newRecorder()
	a := newTestAgent(t, cfg, rec, WithSession(session))

	temp := filepath.Join(cfg.InstallPath, "earlier.part")
	require.NoError(t, os.WriteFile(temp, []byte("partial"), 0644))
	slot, err := a.registry.Allocate(registry.Request{
		URL:         "http://x/y.bin",
		InstallPath: cfg.InstallPath,
		ETag:        `"v"`,
		TempPath:    temp,
	}, "job")
	require.NoError(t, err)
	machine, err := a.newMachine(slot)
	require.NoError(t, err)
	slot.SetController(machine)

	slot.Abandon()
	a.wg.Add(1)
	a.work(slot, machine)

	info := receive(t, rec.finished, "finish")
	assert.Equal(t, dlerr.Aborted, info.Code)
	assert.Equal(t, slot.Handle(), info.Handle)
	assert.Equal(t, "job", info.UserData)
	assert.Empty(t, a.Active())
	content, err := os.ReadFile(temp)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(content), "an untouched resume file survives")
}

func TestUnknownHandle(t *testing.T) {
	session, _ := idleSession(t)
	a := newTestAgent(t, testConfig(t), newRecorder(), WithSession(session))

	assert.ErrorIs(t, a.CancelDownload(4242), dlerr.ErrInvalidHandle)
	assert.ErrorIs(t, a.SuspendDownload(4242), dlerr.ErrInvalidHandle)
	assert.ErrorIs(t, a.ResumeDownload(4242), dlerr.ErrInvalidHandle)
	_, err := a.State(4242)
	assert.ErrorIs(t, err, dlerr.ErrInvalidHandle)
}

func TestDownloadToDisk(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/y.mp3", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", "1000")
		w.Write(body[:600])
		w.(http.Flusher).Flush()
		w.Write(body[600:])
	}))
	defer srv.Close()

	rec := newRecorder()
	a := newTestAgent(t, testConfig(t), rec)
	h, err := a.StartDownloadWithExtension(srv.URL+"/y.mp3", ExtensionOptions{UserData: "job-1"})
	require.NoError(t, err)

	started := receive(t, rec.started, "start")
	assert.Equal(t, h, started.Handle)
	assert.Equal(t, int64(1000), started.FileSize)
	assert.Equal(t, "audio/mpeg", started.MimeType)

	finished := receive(t, rec.finished, "finish")
	require.NoError(t, finished.Err)
	assert.Equal(t, dlerr.None, finished.Code)
	assert.Equal(t, http.StatusOK, finished.HTTPStatus)
	assert.Equal(t, "job-1", finished.UserData)
	assert.True(t, strings.HasSuffix(finished.SavedPath, ".mp3"))

	data, err := os.ReadFile(finished.SavedPath)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	select {
	case extra := <-rec.started:
		t.Fatalf("unexpected second start: %+v", extra)
	default:
	}
}

func TestSuspendAndResumeOverHTTP(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = byte(i % 251)
	}
	release := make(chan struct{})
	var requests atomic.Int32
	ranges := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if requests.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", "1000")
			w.Write(body[:300])
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		ranges <- r.Header.Get("Range")
		http.ServeContent(w, r, "blob.bin", time.Time{}, bytes.NewReader(body))
	}))
	defer srv.Close()
	defer close(release)

	rec := newRecorder()
	a := newTestAgent(t, testConfig(t), rec)
	h, err := a.StartDownload(srv.URL + "/blob.bin")
	require.NoError(t, err)
	receive(t, rec.started, "start")
	receive(t, rec.progress, "progress")

	require.NoError(t, a.SuspendDownload(h))
	paused := receive(t, rec.paused, "pause")
	require.Positive(t, paused.Received)
	assert.LessOrEqual(t, paused.Received, int64(300))
	assert.Equal(t, `"v1"`, paused.ETag)
	info, err := os.Stat(paused.TempPath)
	require.NoError(t, err)
	assert.Equal(t, paused.Received, info.Size())

	assert.Eventually(t, func() bool {
		st, err := a.State(h)
		return err == nil && st == StatePaused
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, a.SuspendDownload(h), dlerr.ErrAlreadySuspended)

	require.NoError(t, a.ResumeDownload(h))
	finished := receive(t, rec.finished, "finish")
	require.NoError(t, finished.Err)
	assert.Equal(t, http.StatusPartialContent, finished.HTTPStatus)
	assert.Equal(t, "bytes="+strconv.FormatInt(paused.Received, 10)+"-", receive(t, ranges, "range"))

	data, err := os.ReadFile(finished.SavedPath)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	_, err = os.Stat(paused.TempPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCancelRemovesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write(make([]byte, 200))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	rec := newRecorder()
	a := newTestAgent(t, testConfig(t), rec)
	h, err := a.StartDownload(srv.URL + "/data.bin")
	require.NoError(t, err)
	started := receive(t, rec.started, "start")
	receive(t, rec.progress, "progress")

	require.NoError(t, a.CancelDownload(h))
	finished := receive(t, rec.finished, "finish")
	assert.Equal(t, dlerr.UserCanceled, finished.Code)
	assert.Empty(t, finished.SavedPath)
	_, err = os.Stat(started.TempPath)
	assert.True(t, os.IsNotExist(err))

	assert.Eventually(t, func() bool {
		_, err := a.State(h)
		return dlerr.CodeOf(err) == dlerr.InvalidHandle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestInstallPathOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	rec := newRecorder()
	a := newTestAgent(t, testConfig(t), rec)
	dir := t.TempDir()
	_, err := a.StartDownloadWithExtension(srv.URL+"/ignored.txt", ExtensionOptions{
		InstallPath:    dir + string(filepath.Separator),
		FileName:       "greeting.txt",
		RequestHeaders: []string{"X-Trace: 1"},
	})
	require.NoError(t, err)
	finished := receive(t, rec.finished, "finish")
	require.NoError(t, finished.Err)
	assert.Equal(t, filepath.Join(dir, "greeting.txt"), finished.SavedPath)
}

func TestCoarseState(t *testing.T) {
	tests := map[httpstate.State]DownloadState{
		httpstate.ReadyToDownload:     StateNew,
		httpstate.Downloading:         StateNew,
		httpstate.RequestPause:        StateNew,
		httpstate.WaitForNetworkError: StateNew,
		httpstate.Paused:              StatePaused,
		httpstate.DownloadFinish:      StateFinished,
		httpstate.Canceled:            StateCanceled,
		httpstate.Failed:              StateAborted,
		httpstate.Aborted:             StateAborted,
	}
	for in, want := range tests {
		assert.Equal(t, want, coarseState(in), in.String())
	}
}

func TestTrimTrailingSlash(t *testing.T) {
	assert.Equal(t, "/tmp/x", trimTrailingSlash("/tmp/x/"))
	assert.Equal(t, "/tmp/x", trimTrailingSlash("/tmp/x//"))
	assert.Equal(t, "/", trimTrailingSlash("/"))
	assert.Equal(t, "dir", trimTrailingSlash("dir"))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_downloads: 3
install_path: /srv/downloads
retry_wait: 5s
proxy: http://proxy:3128
max_retries: 0
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxDownloads)
	assert.Equal(t, "/srv/downloads", cfg.InstallPath)
	assert.Equal(t, 5*time.Second, cfg.RetryWait)
	assert.Equal(t, "http://proxy:3128", cfg.ProxyURL)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, DefaultConfig().UserAgent, cfg.UserAgent)
	assert.Equal(t, DefaultConfig().StageBytes, cfg.StageBytes)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
