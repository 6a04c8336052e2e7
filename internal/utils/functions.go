package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Header is one request header line, kept in the order the caller gave it.
type Header struct {
	Field string
	Value string
}

// DownloadEntry is one item of a YAML download list.
type DownloadEntry struct {
	URL        string   `yaml:"link"`
	OutputPath string   `yaml:"op,omitempty"`
	FileName   string   `yaml:"name,omitempty"`
	ETag       string   `yaml:"etag,omitempty"`
	TempPath   string   `yaml:"temp,omitempty"`
	Headers    []string `yaml:"headers,omitempty"`
}

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// NumberedPath inserts "-(n)" before the extension of path.
func NumberedPath(path string, n int) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, n, ext))
}

// ParseHeaderLines turns "Field: value" strings into headers, trimming both sides.
// Lines without a colon or with an empty field name are skipped.
func ParseHeaderLines(lines []string) []Header {
	result := make([]Header, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		field := strings.TrimSpace(parts[0])
		if field == "" {
			continue
		}
		result = append(result, Header{Field: field, Value: strings.TrimSpace(parts[1])})
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// TempDir is where partial files for downloads into installDir live.
func TempDir(installDir string) string {
	return filepath.Join(installDir, TempDirName)
}

// CleanPartials removes partial files under installDir's temp directory and the
// directory itself once it is empty. It returns the number of files removed.
func CleanPartials(installDir string) (int, error) {
	tempDir := TempDir(installDir)
	files, err := os.ReadDir(tempDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), PartSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(tempDir, file.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	remainingFiles, err := os.ReadDir(tempDir)
	if err != nil {
		return removed, err
	}
	if len(remainingFiles) == 0 {
		if err := os.Remove(tempDir); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %v", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing URL for entry %d", i+1)
		}
		if (entry.ETag == "") != (entry.TempPath == "") {
			return nil, fmt.Errorf("entry %d needs both etag and temp to resume", i+1)
		}
	}
	log.Debug().Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}

// WriteDownloadList stores entries in the format ReadDownloadList accepts.
func WriteDownloadList(filePath string, entries []DownloadEntry) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("error encoding YAML: %v", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("error writing YAML file: %v", err)
	}
	return nil
}
