package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/danzo-agent/agent"
	"github.com/tanq16/danzo-agent/internal/utils"
)

func testConfig(t *testing.T) agent.Config {
	utils.DisableLogging()
	cfg := agent.DefaultConfig()
	cfg.InstallPath = t.TempDir()
	cfg.DiskSafetyMargin = 0
	cfg.MaxRetries = 0
	return cfg
}

func TestRunDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.bin" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Write([]byte("content of " + r.URL.Path))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.MaxDownloads = 1
	var out bytes.Buffer
	entries := []utils.DownloadEntry{
		{URL: srv.URL + "/one.txt"},
		{URL: srv.URL + "/two.txt", FileName: "second.txt"},
		{URL: srv.URL + "/missing.bin"},
	}
	result, err := runDownloads(context.Background(), cfg, entries, runOptions{
		Headers: []string{"X-Test: yes"},
		Out:     &out,
	})
	require.Error(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Resume)

	data, err := os.ReadFile(filepath.Join(cfg.InstallPath, "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content of /one.txt", string(data))
	data, err = os.ReadFile(filepath.Join(cfg.InstallPath, "second.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content of /two.txt", string(data))

	assert.Contains(t, out.String(), "Completed 2 of 3")
	assert.Contains(t, out.String(), "Failed 1 of 3")
}

func TestPauseOnInterrupt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Length", "1000")
		w.Write(make([]byte, 100))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.MaxDownloads = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// interrupt once the first download has bytes on disk
		pattern := filepath.Join(utils.TempDir(cfg.InstallPath), "*"+utils.PartSuffix)
		for ctx.Err() == nil {
			if matches, _ := filepath.Glob(pattern); len(matches) > 0 {
				cancel()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	entries := []utils.DownloadEntry{
		{URL: srv.URL + "/big.iso"},
		{URL: srv.URL + "/later.iso"},
	}
	var out bytes.Buffer
	result, err := runDownloads(ctx, cfg, entries, runOptions{PauseOnInterrupt: true, Out: &out})
	require.NoError(t, err)
	require.Len(t, result.Resume, 2)

	paused := result.Resume[0]
	assert.Equal(t, srv.URL+"/big.iso", paused.URL)
	assert.Equal(t, `"abc"`, paused.ETag)
	require.NotEmpty(t, paused.TempPath)
	_, err = os.Stat(paused.TempPath)
	assert.NoError(t, err, "the partial file survives the shutdown")

	assert.Equal(t, utils.DownloadEntry{URL: srv.URL + "/later.iso"}, result.Resume[1])
	assert.Contains(t, out.String(), "Paused 1 of 2")
}

func TestCancelOnInterrupt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write(make([]byte, 100))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	var out bytes.Buffer
	result, err := runDownloads(ctx, cfg, []utils.DownloadEntry{{URL: srv.URL + "/big.iso"}}, runOptions{Out: &out})
	require.NoError(t, err)
	assert.Empty(t, result.Resume)
	assert.Contains(t, out.String(), "Canceled 1 of 1")
	matches, _ := filepath.Glob(filepath.Join(utils.TempDir(cfg.InstallPath), "*"+utils.PartSuffix))
	assert.Empty(t, matches)
}

func TestJobLabel(t *testing.T) {
	tests := []struct {
		entry utils.DownloadEntry
		want  string
	}{
		{utils.DownloadEntry{URL: "https://x.io/a/b.zip"}, "b.zip"},
		{utils.DownloadEntry{URL: "https://x.io/a/b.zip", FileName: "c.zip"}, "c.zip"},
		{utils.DownloadEntry{URL: "https://x.io/"}, "x.io"},
		{utils.DownloadEntry{URL: "https://x.io"}, "x.io"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, jobLabel(tt.entry), tt.entry.URL)
	}
}
