package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/danzo-agent/agent"
	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/output"
	"github.com/tanq16/danzo-agent/internal/utils"
)

const (
	startRetryWait = 20 * time.Millisecond
	shutdownWait   = 10 * time.Second
)

type runOptions struct {
	Headers          []string
	PauseOnInterrupt bool
	Out              io.Writer
}

type runResult struct {
	// Resume holds entries that can continue an interrupted run.
	Resume []utils.DownloadEntry
	Failed int
}

// downloadJob is the UserData of one download. Callback writes happen on the
// download goroutine and are read only after settled or done is closed.
type downloadJob struct {
	entry   utils.DownloadEntry
	label   string
	line    int
	started bool
	paused  *agent.PausedInfo
	result  agent.FinishedInfo
	settled chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newJob(entry utils.DownloadEntry) *downloadJob {
	return &downloadJob{
		entry:   entry,
		label:   jobLabel(entry),
		settled: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (j *downloadJob) settle() {
	j.once.Do(func() { close(j.settled) })
}

func jobLabel(entry utils.DownloadEntry) string {
	if entry.FileName != "" {
		return entry.FileName
	}
	if u, err := url.Parse(entry.URL); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
		if u.Host != "" {
			return u.Host
		}
	}
	return entry.URL
}

type runner struct {
	agent   *agent.Agent
	mgr     *output.Manager
	headers []string
	pause   bool
	log     zerolog.Logger
}

func (r *runner) callbacks() agent.Callbacks {
	return agent.Callbacks{
		OnStarted: func(info agent.StartedInfo) {
			j := info.UserData.(*downloadJob)
			r.mgr.Start(j.line, info.FileSize)
		},
		OnProgress: func(info agent.ProgressInfo) {
			r.mgr.SetProgress(info.UserData.(*downloadJob).line, info.Received)
		},
		OnPaused: func(info agent.PausedInfo) {
			j := info.UserData.(*downloadJob)
			j.paused = &info
			r.mgr.Pause(j.line, info.Received)
			j.settle()
		},
		OnFinished: func(info agent.FinishedInfo) {
			j := info.UserData.(*downloadJob)
			j.result = info
			switch {
			case info.Err == nil:
				r.mgr.Complete(j.line, fmt.Sprintf("Completed %s %s %s", j.label, output.StyleSymbols["arrow"], info.SavedPath))
			case info.Code == dlerr.Aborted && j.paused != nil:
				// shutdown after a pause; the partial file stays for a later resume
			case info.Code == dlerr.UserCanceled || info.Code == dlerr.Aborted:
				r.mgr.Cancel(j.line, "Canceled "+j.label)
			default:
				r.mgr.ReportError(j.line, info.Err)
			}
			j.settle()
			close(j.done)
		},
	}
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runDownloads runs entries with at most cfg.MaxDownloads in flight. When ctx
// ends, running downloads are canceled, or paused when opts.PauseOnInterrupt
// is set, in which case the result lists entries for a later run.
func runDownloads(ctx context.Context, cfg agent.Config, entries []utils.DownloadEntry, opts runOptions) (runResult, error) {
	var result runResult
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	r := &runner{
		mgr:     output.NewManager(opts.Out),
		headers: opts.Headers,
		pause:   opts.PauseOnInterrupt,
		log:     utils.GetLogger("cli"),
	}
	a, err := agent.New(cfg, r.callbacks())
	if err != nil {
		return result, err
	}
	r.agent = a

	jobs := make([]*downloadJob, len(entries))
	for i, entry := range entries {
		jobs[i] = newJob(entry)
		jobs[i].line = r.mgr.Register(jobs[i].label)
	}
	r.mgr.StartDisplay()

	var g errgroup.Group
	g.SetLimit(max(cfg.MaxDownloads, 1))
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error { return r.run(ctx, j) })
	}
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		r.log.Warn().Err(err).Msg("Downloads still running at exit")
	}
	r.mgr.StopDisplay()

	for _, j := range jobs {
		if entry, ok := r.resumeEntry(ctx, j); ok {
			result.Resume = append(result.Resume, entry)
		}
	}
	result.Failed = r.mgr.Counts()[output.StatusError]
	if runErr == nil && result.Failed > 0 {
		runErr = fmt.Errorf("%d download(s) failed", result.Failed)
	}
	return result, runErr
}

// run drives one job and returns its failure, if any. Interrupted jobs are not
// failures.
func (r *runner) run(ctx context.Context, j *downloadJob) error {
	if ctx.Err() != nil {
		return nil
	}
	handle, err := r.start(ctx, j)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		r.mgr.ReportError(j.line, err)
		return fmt.Errorf("%s: %w", j.label, err)
	}
	j.started = true

	select {
	case <-j.done:
	case <-ctx.Done():
		r.interrupt(handle, j)
	}
	select {
	case <-j.done:
		if j.result.Err != nil && !interrupted(j.result.Code) {
			return fmt.Errorf("%s: %w", j.label, j.result.Err)
		}
	default:
		// paused, ended by the agent shutdown
	}
	return nil
}

func (r *runner) start(ctx context.Context, j *downloadJob) (int, error) {
	opts := agent.ExtensionOptions{
		RequestHeaders: append(slices.Clone(r.headers), j.entry.Headers...),
		InstallPath:    j.entry.OutputPath,
		FileName:       j.entry.FileName,
		ETag:           j.entry.ETag,
		TempFilePath:   j.entry.TempPath,
		UserData:       j,
	}
	if opts.InstallPath != "" {
		if err := os.MkdirAll(opts.InstallPath, 0755); err != nil {
			return 0, fmt.Errorf("error creating output directory: %v", err)
		}
	}
	for {
		handle, err := r.agent.StartDownloadWithExtension(j.entry.URL, opts)
		if dlerr.CodeOf(err) != dlerr.AlreadyMaxDownload {
			return handle, err
		}
		// a finished download frees its slot just after its last callback
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(startRetryWait):
		}
	}
}

// interrupt stops a running download and waits until it settled.
func (r *runner) interrupt(handle int, j *downloadJob) {
	var err error
	if r.pause {
		err = r.agent.SuspendDownload(handle)
	} else {
		err = r.agent.CancelDownload(handle)
	}
	if err != nil {
		r.log.Debug().Err(err).Int("handle", handle).Msg("Interrupt not applied")
		<-j.done
		return
	}
	<-j.settled
}

// resumeEntry returns the entry that continues j, if the run was interrupted
// before j completed.
func (r *runner) resumeEntry(ctx context.Context, j *downloadJob) (utils.DownloadEntry, bool) {
	if !r.pause || ctx.Err() == nil {
		return utils.DownloadEntry{}, false
	}
	entry := j.entry
	switch {
	case !j.started:
		return entry, true
	case j.paused != nil:
		entry.ETag, entry.TempPath = "", ""
		if j.paused.ETag != "" && j.paused.TempPath != "" {
			entry.ETag = j.paused.ETag
			entry.TempPath = j.paused.TempPath
		}
		return entry, true
	}
	return utils.DownloadEntry{}, false
}

func interrupted(code dlerr.Code) bool {
	return code == dlerr.UserCanceled || code == dlerr.Aborted
}
