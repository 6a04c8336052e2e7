// Package agent is the public face of the download agent. An Agent runs each
// download on its own goroutine, addresses it by an integer handle and reports
// back through Callbacks.
package agent

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/httpstate"
	"github.com/tanq16/danzo-agent/internal/registry"
	"github.com/tanq16/danzo-agent/internal/transport"
	"github.com/tanq16/danzo-agent/internal/utils"
)

type Agent struct {
	cfg      Config
	cb       Callbacks
	registry *registry.Registry
	session  transport.Session
	wg       sync.WaitGroup
	closed   atomic.Bool
	log      zerolog.Logger
}

func New(cfg Config, cb Callbacks, opts ...Option) (*Agent, error) {
	cfg = cfg.withDefaults()
	if err := checkInstallPath(cfg.InstallPath); err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:      cfg,
		cb:       cb,
		registry: registry.New(cfg.MaxDownloads, registry.WithQueueBytes(cfg.QueueBytes)),
		log:      utils.GetLogger("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.session == nil {
		a.session = transport.NewHTTPSession(utils.NewAgentHTTPClient(cfg.clientConfig()))
	}
	a.log.Debug().Int("max", cfg.MaxDownloads).Str("install", cfg.InstallPath).Msg("Agent ready")
	return a, nil
}

func (a *Agent) StartDownload(rawURL string) (int, error) {
	return a.StartDownloadWithExtension(rawURL, ExtensionOptions{})
}

// StartDownloadWithExtension validates the request, claims a slot and starts the
// download in the background. The handle is valid until OnFinished returns.
func (a *Agent) StartDownloadWithExtension(rawURL string, opts ExtensionOptions) (int, error) {
	if a.closed.Load() {
		return 0, dlerr.Newf(dlerr.InvalidState, "start", "agent is shut down")
	}
	if strings.TrimSpace(rawURL) == "" {
		return 0, dlerr.Newf(dlerr.InvalidArgument, "start", "empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, dlerr.Wrap(dlerr.InvalidURL, "start", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, dlerr.Newf(dlerr.InvalidURL, "start", "unsupported scheme %q", u.Scheme)
	}
	if (opts.ETag == "") != (opts.TempFilePath == "") {
		return 0, dlerr.Newf(dlerr.InvalidArgument, "start", "resume needs both etag and temp file")
	}
	install := a.cfg.InstallPath
	if opts.InstallPath != "" {
		install = trimTrailingSlash(opts.InstallPath)
		if err := checkInstallPath(install); err != nil {
			return 0, err
		}
	}

	slot, err := a.registry.Allocate(registry.Request{
		URL:         rawURL,
		Headers:     opts.RequestHeaders,
		InstallPath: install,
		FileName:    opts.FileName,
		ETag:        opts.ETag,
		TempPath:    opts.TempFilePath,
	}, opts.UserData)
	if err != nil {
		return 0, err
	}
	machine, err := a.newMachine(slot)
	if err != nil {
		a.registry.Destroy(slot)
		return 0, err
	}
	slot.SetController(machine)

	handle := slot.Handle()
	a.wg.Add(1)
	go a.work(slot, machine)
	a.log.Info().Int("handle", handle).Str("url", rawURL).Msg("Download started")
	return handle, nil
}

func (a *Agent) newMachine(slot *registry.Slot) (*httpstate.Machine, error) {
	return httpstate.New(httpstate.Params{
		Handle:    slot.Handle(),
		Queue:     slot.Queue(),
		Request:   slot.Request(),
		UserData:  slot.UserData(),
		Session:   a.session,
		Callbacks: a.cb,
		Config:    a.cfg.machineConfig(),
		OnTransition: func(s httpstate.State) {
			slot.SetState(coarseState(s))
		},
	})
}

// work runs one download and frees its slot. A slot abandoned by Shutdown
// before this goroutine got going still reports Aborted through OnFinished.
func (a *Agent) work(slot *registry.Slot, machine *httpstate.Machine) {
	defer a.wg.Done()
	defer a.registry.Destroy(slot)
	log := utils.GetDownloadLogger("agent", slot.Handle())
	if slot.Abandoned() {
		log.Debug().Msg("Abandoned before start")
		machine.Abandon()
		return
	}
	if err := machine.Run(); err != nil {
		switch code := dlerr.CodeOf(err); code {
		case dlerr.UserCanceled, dlerr.Aborted:
			log.Info().Str("code", code.String()).Msg("Download stopped")
		default:
			log.Error().Err(err).Msg("Download failed")
		}
		return
	}
	log.Info().Str("state", machine.State().String()).Msg("Download ended")
}

func (a *Agent) CancelDownload(handle int) error {
	c, err := a.controller(handle)
	if err != nil {
		return err
	}
	return c.Cancel()
}

func (a *Agent) SuspendDownload(handle int) error {
	c, err := a.controller(handle)
	if err != nil {
		return err
	}
	return c.Suspend()
}

func (a *Agent) ResumeDownload(handle int) error {
	c, err := a.controller(handle)
	if err != nil {
		return err
	}
	return c.Resume()
}

// State reports the coarse state of a live download.
func (a *Agent) State(handle int) (DownloadState, error) {
	slot, err := a.registry.Lookup(handle)
	if err != nil {
		return StateIdle, err
	}
	return slot.State(), nil
}

// Active returns the handles of every live download in handle order.
func (a *Agent) Active() []int {
	live := a.registry.Live()
	handles := make([]int, 0, len(live))
	for _, slot := range live {
		handles = append(handles, slot.Handle())
	}
	return handles
}

// Shutdown aborts every live download and waits for their goroutines. Partial
// files of paused downloads stay on disk. If ctx ends first the remaining queues
// are closed and ctx.Err is returned.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.closed.Store(true)
	for _, slot := range a.registry.Live() {
		slot.Abandon()
		if c := slot.Controller(); c != nil {
			c.Abort()
		}
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.log.Debug().Msg("All downloads stopped")
		return nil
	case <-ctx.Done():
		a.registry.Teardown()
		a.log.Warn().Int("live", len(a.registry.Live())).Msg("Shutdown deadline reached")
		return ctx.Err()
	}
}

func (a *Agent) controller(handle int) (registry.Controller, error) {
	slot, err := a.registry.Lookup(handle)
	if err != nil {
		return nil, err
	}
	c := slot.Controller()
	if c == nil {
		return nil, dlerr.Newf(dlerr.InvalidHandle, "lookup", "handle %d", handle)
	}
	return c, nil
}

func coarseState(s httpstate.State) DownloadState {
	switch s {
	case httpstate.DownloadFinish:
		return StateFinished
	case httpstate.Paused:
		return StatePaused
	case httpstate.Canceled:
		return StateCanceled
	case httpstate.Failed, httpstate.Aborted:
		return StateAborted
	}
	return StateNew
}

func checkInstallPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return dlerr.Wrap(dlerr.InvalidInstallPath, "start", err)
	}
	if !info.IsDir() {
		return dlerr.Newf(dlerr.InvalidInstallPath, "start", "%s is not a directory", path)
	}
	return nil
}

func trimTrailingSlash(path string) string {
	trimmed := strings.TrimRight(path, `/\`)
	if trimmed == "" {
		return path[:1]
	}
	return trimmed
}
