package agent

import (
	"net/http"

	"github.com/tanq16/danzo-agent/internal/httpstate"
	"github.com/tanq16/danzo-agent/internal/registry"
	"github.com/tanq16/danzo-agent/internal/transport"
)

type (
	Callbacks    = httpstate.Callbacks
	StartedInfo  = httpstate.StartedInfo
	ProgressInfo = httpstate.ProgressInfo
	PausedInfo   = httpstate.PausedInfo
	FinishedInfo = httpstate.FinishedInfo
)

// DownloadState is the coarse lifecycle state reported by Agent.State.
type DownloadState = registry.State

const (
	StateIdle     = registry.StateIdle
	StateNew      = registry.StateNew
	StateFinished = registry.StateFinished
	StatePaused   = registry.StatePaused
	StateCanceled = registry.StateCanceled
	StateAborted  = registry.StateAborted
)

// ExtensionOptions customise a single download.
type ExtensionOptions struct {
	// RequestHeaders are "Field: value" lines. They override the defaults of the
	// same name.
	RequestHeaders []string
	// InstallPath replaces Config.InstallPath for this download.
	InstallPath string
	FileName    string
	// ETag and TempFilePath together continue an earlier partial download.
	ETag         string
	TempFilePath string
	UserData     any
}

type Option func(*Agent)

// WithSession replaces the HTTP transport. Mostly useful in tests.
func WithSession(s transport.Session) Option {
	return func(a *Agent) {
		a.session = s
	}
}

// WithHTTPClient keeps the built-in transport but sends through client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Agent) {
		a.session = transport.NewHTTPSession(client)
	}
}
