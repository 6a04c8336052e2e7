package storage

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tanq16/danzo-agent/internal/utils"
)

const fallbackName = "download"

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Types whose extension tables disagree across systems.
var preferredExt = map[string]string{
	"audio/mpeg":         ".mp3",
	"audio/mp4":          ".m4a",
	"video/mp4":          ".mp4",
	"video/webm":         ".webm",
	"application/zip":    ".zip",
	"application/gzip":   ".gz",
	"application/x-gzip": ".gz",
	"application/pdf":    ".pdf",
	"image/jpeg":         ".jpg",
	"text/plain":         ".txt",
	"text/html":          ".html",
}

// FileRecord describes where one download's bytes go.
type FileRecord struct {
	PureName      string
	Extension     string
	TempPath      string
	SavedPath     string
	ContentLength int64
}

func (r FileRecord) FileName() string {
	return r.PureName + r.Extension
}

// ResolveInput is what ResolveFileRecord picks names from.
type ResolveInput struct {
	URL         *url.URL
	Header      http.Header
	InstallDir  string
	FileName    string
	TempPath    string
	ContentType string
}

// ResolveFileRecord chooses the file name, the saved path and the temp path for
// a download. The name comes from the caller, else Content-Disposition, else
// the URL path. A name without an extension takes one from the URL path or the
// content type.
//
// The saved path is claimed until Release, and a temp file is created unless
// the caller brought one, so concurrent downloads of the same name never share
// either.
func ResolveFileRecord(in ResolveInput) (FileRecord, error) {
	name := ""
	if in.FileName != "" {
		name = sanitize(filepath.Base(in.FileName))
	}
	if name == "" && in.Header != nil {
		name = dispositionName(in.Header.Get("Content-Disposition"))
	}
	urlName := ""
	if in.URL != nil {
		urlName = sanitize(path.Base(in.URL.Path))
	}
	if name == "" {
		name = urlName
	}
	if name == "" {
		name = fallbackName
	}

	ext := filepath.Ext(name)
	pure := strings.TrimSuffix(name, ext)
	if pure == "" {
		pure, ext = name, ""
	}
	if ext == "" {
		ext = filepath.Ext(urlName)
	}
	if ext == "" {
		ext = extensionByType(in.ContentType)
	}

	saved := claimSavedPath(filepath.Join(in.InstallDir, pure+ext))
	temp := in.TempPath
	if temp == "" {
		var err error
		temp, err = createTemp(utils.TempDir(in.InstallDir), filepath.Base(saved))
		if err != nil {
			Release(saved)
			return FileRecord{}, err
		}
	}
	return FileRecord{
		PureName:  pure,
		Extension: ext,
		TempPath:  temp,
		SavedPath: saved,
	}, nil
}

func dispositionName(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn := params["filename"]; fn != "" {
		return sanitize(path.Base(fn))
	}
	if fn := params["filename*"]; strings.HasPrefix(fn, "UTF-8''") {
		unescaped, err := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		if err == nil {
			return sanitize(path.Base(unescaped))
		}
	}
	return ""
}

func sanitize(name string) string {
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.TrimSpace(filenameRegex.ReplaceAllString(name, "_"))
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

func extensionByType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := preferredExt[mediaType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// PartialSize is the size of the partial file at path, zero when it does not exist.
func PartialSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fileError("stat", err)
	}
	return info.Size(), nil
}

// Remove deletes path, ignoring a file that is already gone.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fileError("remove", err)
	}
	return nil
}
