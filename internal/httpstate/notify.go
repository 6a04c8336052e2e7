package httpstate

import "github.com/tanq16/danzo-agent/dlerr"

type StartedInfo struct {
	Handle   int
	MimeType string
	// FileSize is -1 when the server did not declare a length.
	FileSize int64
	TempPath string
	ETag     string
	UserData any
}

type ProgressInfo struct {
	Handle   int
	Received int64
	UserData any
}

// PausedInfo carries what a later resume needs: the partial file and its validator.
type PausedInfo struct {
	Handle   int
	Received int64
	TempPath string
	ETag     string
	UserData any
}

type FinishedInfo struct {
	Handle     int
	SavedPath  string
	ETag       string
	Err        error
	Code       dlerr.Code
	HTTPStatus int
	UserData   any
}

// Callbacks are invoked from the download's own goroutine and must not block.
// A nil field disables that notification.
type Callbacks struct {
	OnStarted  func(StartedInfo)
	OnProgress func(ProgressInfo)
	OnPaused   func(PausedInfo)
	OnFinished func(FinishedInfo)
}

func (m *Machine) notifyStarted() {
	if m.cb.OnStarted == nil {
		return
	}
	m.cb.OnStarted(StartedInfo{
		Handle:   m.handle,
		MimeType: m.tx.ContentType,
		FileSize: m.tx.ContentLength,
		TempPath: m.file.TempPath,
		ETag:     m.tx.ETag,
		UserData: m.userData,
	})
}

func (m *Machine) notifyProgress() {
	m.writer.MarkNotified()
	if m.cb.OnProgress == nil {
		return
	}
	m.cb.OnProgress(ProgressInfo{Handle: m.handle, Received: m.tx.Received, UserData: m.userData})
}

func (m *Machine) notifyPaused() {
	if m.cb.OnPaused == nil {
		return
	}
	m.cb.OnPaused(PausedInfo{
		Handle:   m.handle,
		Received: m.tx.Received,
		TempPath: m.file.TempPath,
		ETag:     m.tx.ETag,
		UserData: m.userData,
	})
}

func (m *Machine) notifyFinished() {
	if m.cb.OnFinished == nil {
		return
	}
	info := FinishedInfo{
		Handle:     m.handle,
		ETag:       m.tx.ETag,
		Err:        m.tx.Err,
		Code:       dlerr.CodeOf(m.tx.Err),
		HTTPStatus: m.tx.HTTPStatus,
		UserData:   m.userData,
	}
	if m.tx.Err == nil {
		info.SavedPath = m.file.SavedPath
	}
	m.cb.OnFinished(info)
}
