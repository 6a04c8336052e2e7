package httpstate

// State is the protocol-level progress of one download.
type State int

const (
	ReadyToDownload State = iota
	DownloadRequested
	DownloadStarted
	Downloading
	DownloadFinish
	Redirected
	RequestCancel
	Canceled
	RequestPause
	Paused
	RequestResume
	Resumed
	Failed
	Aborted
	WaitForNetworkError
)

var stateNames = [...]string{
	ReadyToDownload:     "ready-to-download",
	DownloadRequested:   "download-requested",
	DownloadStarted:     "download-started",
	Downloading:         "downloading",
	DownloadFinish:      "download-finish",
	Redirected:          "redirected",
	RequestCancel:       "request-cancel",
	Canceled:            "canceled",
	RequestPause:        "request-pause",
	Paused:              "paused",
	RequestResume:       "request-resume",
	Resumed:             "resumed",
	Failed:              "failed",
	Aborted:             "aborted",
	WaitForNetworkError: "wait-for-network-error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal states end the download loop.
func (s State) Terminal() bool {
	switch s {
	case DownloadFinish, Canceled, Failed, Aborted:
		return true
	}
	return false
}

