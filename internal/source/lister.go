// Package source enumerates the current document sources and fingerprints their content.
package source

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	apperrors "ragsync/internal/errors"
)

// DefaultPattern selects PDF files.
const DefaultPattern = "*.pdf"

// Lister reads the configured PDF directory and URL list.
type Lister struct {
	Dir      string
	Pattern  string
	URLsFile string
}

// NewLister returns a Lister. An empty pattern means DefaultPattern.
func NewLister(dir, pattern, urlsFile string) *Lister {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Lister{Dir: dir, Pattern: pattern, URLsFile: urlsFile}
}

// ListFiles returns the regular files directly inside Dir whose name matches
// Pattern, joined with Dir, sorted by name.
func (l *Lister) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.New(apperrors.ErrCodeMissingDirectory, "source directory does not exist", err).
				WithDetail("dir", l.Dir)
		}
		return nil, apperrors.New(apperrors.ErrCodeReadFailed, "read source directory", err).WithDetail("dir", l.Dir)
	}
	if !doublestar.ValidatePattern(l.Pattern) {
		return nil, apperrors.ConfigError("invalid source pattern", nil).WithDetail("pattern", l.Pattern)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		matched, err := doublestar.Match(l.Pattern, e.Name())
		if err != nil || !matched {
			continue
		}
		files = append(files, filepath.Join(l.Dir, e.Name()))
	}
	return files, nil
}

// ListURLs returns one URL per non-empty line of URLsFile. Whitespace, then
// double quotes, then single quotes are trimmed from both ends of each line.
// A missing file yields no URLs.
func (l *Lister) ListURLs() ([]string, error) {
	if l.URLsFile == "" {
		return nil, nil
	}
	f, err := os.Open(l.URLsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.New(apperrors.ErrCodeReadFailed, "open url list", err).WithDetail("file", l.URLsFile)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if u := cleanURL(sc.Text()); u != "" {
			urls = append(urls, u)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeReadFailed, "read url list", err).WithDetail("file", l.URLsFile)
	}
	return urls, nil
}

func cleanURL(line string) string {
	s := strings.TrimSpace(line)
	s = strings.Trim(s, `"`)
	s = strings.Trim(s, `'`)
	return s
}
