package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tanq16/danzo-agent/dlerr"
)

// DefaultStageSize is the staging buffer size used when none is configured.
const DefaultStageSize = 64 * 1024

// Writer turns a stream of body chunks into appends to one file. Small chunks
// are collected in a staging buffer and written together; chunks at least as
// large as the buffer go straight to the file.
//
// A Writer is owned by a single goroutine.
type Writer struct {
	file      *os.File
	path      string
	stageSize int
	stage     []byte
	written   int64
	updated   bool
}

func NewWriter(stageSize int) *Writer {
	if stageSize <= 0 {
		stageSize = DefaultStageSize
	}
	return &Writer{stageSize: stageSize}
}

// Open opens path for appending, creating it and its parent directories as
// needed. Fresh downloads and resumes both append; they differ only in whether
// the file already holds bytes.
func (w *Writer) Open(path string) error {
	if w.file != nil {
		return dlerr.Newf(dlerr.FailToAccessFile, "open", "%s already open", w.path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fileError("open", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fileError("open", err)
	}
	w.file = f
	w.path = path
	w.written = 0
	w.updated = false
	return nil
}

func (w *Writer) IsOpen() bool { return w.file != nil }
func (w *Writer) Path() string { return w.path }

func (w *Writer) WriteChunk(p []byte) error {
	if w.file == nil {
		return dlerr.New(dlerr.FailToAccessFile, "write")
	}
	if len(p) == 0 {
		return nil
	}
	if w.stage == nil {
		if len(p) < w.stageSize {
			w.stage = make([]byte, 0, w.stageSize)
			w.stage = append(w.stage, p...)
			return nil
		}
		return w.writeDirect(p)
	}
	if len(p) >= w.stageSize {
		if err := w.Flush(); err != nil {
			return err
		}
		return w.writeDirect(p)
	}
	if len(w.stage)+len(p) > w.stageSize {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	w.stage = append(w.stage, p...)
	return nil
}

func (w *Writer) writeDirect(p []byte) error {
	n, err := w.file.Write(p)
	w.written += int64(n)
	if n > 0 {
		w.updated = true
	}
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return fileError("write", err)
}

// Flush writes any staged bytes.
func (w *Writer) Flush() error {
	if w.file == nil || len(w.stage) == 0 {
		return nil
	}
	err := w.writeDirect(w.stage)
	w.stage = w.stage[:0]
	return err
}

// Complete flushes, syncs and closes the file.
func (w *Writer) Complete() error {
	if w.file == nil {
		return nil
	}
	err := w.Flush()
	if err == nil {
		err = fileError("sync", w.file.Sync())
	}
	closeErr := w.file.Close()
	w.file = nil
	w.stage = nil
	if err != nil {
		return err
	}
	return fileError("close", closeErr)
}

// Discard closes the file without syncing and drops staged bytes. Removing the
// file is up to the caller.
func (w *Writer) Discard() error {
	if w.file == nil {
		w.stage = nil
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.stage = nil
	return fileError("close", err)
}

// Written counts bytes that reached the file since Open.
func (w *Writer) Written() int64 { return w.written }

// Staged counts bytes held in the staging buffer.
func (w *Writer) Staged() int { return len(w.stage) }

// Updated reports whether bytes reached the file since the last MarkNotified.
func (w *Writer) Updated() bool { return w.updated }

func (w *Writer) MarkNotified() { w.updated = false }

func fileError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, io.ErrShortWrite) {
		return dlerr.Wrap(dlerr.DiskFull, op, err)
	}
	return dlerr.Wrap(dlerr.FailToAccessFile, op, err)
}
