package artifact

import (
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the data directory when present.
const IgnoreFileName = ".timewsyncignore"

// DefaultIncludes matches the files Timewarrior keeps in its data directory
// (monthly interval files, tags.data, undo.data, backlog.data).
var DefaultIncludes = []string{"*.data"}

var defaultIgnoreLines = []string{
	// timewsync
	".*",
	"*" + TempSuffix,
	// editors
	"*~",
	"*.swp",
	"*.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// Filter decides which names take part in synchronization. A name is synced
// when it matches at least one include pattern and no ignore rule.
type Filter struct {
	includes []string
	ignore   *gitignore.GitIgnore
}

func NewFilter(includes []string, ignoreLines ...string) (*Filter, error) {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	for _, p := range includes {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}

	lines := append(append([]string{}, defaultIgnoreLines...), ignoreLines...)
	return &Filter{
		includes: includes,
		ignore:   gitignore.CompileIgnoreLines(lines...),
	}, nil
}

// LoadFilter builds a Filter and appends the rules found in ignorePath, if
// the file exists.
func LoadFilter(includes []string, ignorePath string) (*Filter, error) {
	f, err := NewFilter(includes)
	if err != nil {
		return nil, err
	}

	ignore, err := gitignore.CompileIgnoreFileAndLines(ignorePath, defaultIgnoreLines...)
	if err != nil {
		// a missing ignore file only means there are no extra rules
		slog.Debug("ignore file not loaded", "path", ignorePath, "error", err)
		return f, nil
	}
	slog.Debug("loaded ignore file", "path", ignorePath)
	f.ignore = ignore
	return f, nil
}

// Includes returns a copy of the include patterns.
func (f *Filter) Includes() []string {
	return append([]string{}, f.includes...)
}

// Match reports whether name should be synchronized.
func (f *Filter) Match(name string) bool {
	if f.ignore.MatchesPath(name) {
		return false
	}
	for _, p := range f.includes {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
