package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/utils"
)

// claims holds the saved paths promised to downloads that have not ended yet,
// so two in-flight downloads never resolve to the same name.
var claims = struct {
	sync.Mutex
	paths map[string]struct{}
}{paths: make(map[string]struct{})}

// taken reports whether path exists on disk or is claimed. Called with claims held.
func taken(path string) bool {
	if _, ok := claims.paths[path]; ok {
		return true
	}
	_, err := os.Lstat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// freePath returns path, or the first numbered variant of it, that is neither
// on disk nor claimed. Called with claims held.
func freePath(path string) string {
	candidate := path
	for n := 1; taken(candidate); n++ {
		candidate = utils.NumberedPath(path, n)
	}
	return candidate
}

// claimSavedPath reserves a saved path derived from path until Release.
func claimSavedPath(path string) string {
	claims.Lock()
	defer claims.Unlock()
	claimed := freePath(path)
	claims.paths[claimed] = struct{}{}
	return claimed
}

// Release drops the claim on savedPath. Releasing an unclaimed path is a no-op.
func Release(savedPath string) {
	claims.Lock()
	delete(claims.paths, savedPath)
	claims.Unlock()
}

// createTemp creates an empty partial file named after base in dir. An
// existing file is never reused; a numbered name is tried instead.
func createTemp(dir, base string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fileError("create temp", err)
	}
	path := filepath.Join(dir, base)
	for n := 1; ; n++ {
		candidate := path + utils.PartSuffix
		if n > 1 {
			candidate = utils.NumberedPath(path, n-1) + utils.PartSuffix
		}
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fileError("create temp", err)
		}
		if err := f.Close(); err != nil {
			return "", fileError("create temp", err)
		}
		return candidate, nil
	}
}

// Truncate empties the file at path, ignoring a file that does not exist.
func Truncate(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Truncate(path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fileError("truncate", err)
	}
	return nil
}

// Finalize moves the finished temp file to savedPath. When something else
// created savedPath meanwhile, the next free numbered name is used instead.
// It returns the path the file ended up at. The claim on savedPath is left
// for the caller to Release.
func Finalize(tempPath, savedPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(savedPath), 0755); err != nil {
		return "", fileError("finalize", err)
	}
	claims.Lock()
	defer claims.Unlock()
	target := savedPath
	if _, err := os.Lstat(target); !errors.Is(err, os.ErrNotExist) {
		target = freePath(savedPath)
	}
	if err := os.Rename(tempPath, target); err != nil {
		return "", dlerr.Wrap(dlerr.FailToAccessFile, "finalize", err)
	}
	return target, nil
}
