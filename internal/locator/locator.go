// Package locator discovers the source files a run operates on.
package locator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DiscoveryError reports a root path that does not exist or cannot be read.
// It is the only error that aborts a run.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("locator: %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// File is one discovered file.
type File struct {
	Path      string
	Language  string // classified by file extension
	Supported bool   // an adapter handles the extension
}

// IgnoreFiles are read from every walked directory, gitignore syntax.
var IgnoreFiles = []string{".gitignore", ".agentspecignore"}

// defaultIgnore is the default set of directory names to skip.
// Note: ignore matching is against directory base names only; path
// patterns go through the gitignore matchers.
var defaultIgnore = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"__pycache__":  true,
	".build":       true,
	"dist":         true,
	"build":        true,
	".venv":        true,
}

// classifyLanguage returns a language label for a file extension. Files
// with a label but no adapter are reported as unsupported; unlabeled files
// are not source and are skipped silently.
func classifyLanguage(ext string) string {
	switch ext {
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".mts", ".cts":
		return "typescript"
	case ".tsx":
		return "tsx"
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".hpp", ".cc":
		return "cpp"
	case ".rb":
		return "ruby"
	case ".kt":
		return "kotlin"
	case ".swift":
		return "swift"
	case ".sh", ".bash":
		return "shell"
	default:
		return ""
	}
}

// Locator walks paths and classifies files.
type Locator struct {
	exts     map[string]bool
	patterns []string
}

// New returns a locator treating extensions as supported. patterns are
// extra gitignore-style patterns applied relative to each walked root.
func New(extensions []string, patterns []string) *Locator {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Locator{exts: exts, patterns: patterns}
}

type matcher struct {
	base string
	gi   *ignore.GitIgnore
}

func (m matcher) matches(path string, dir bool) bool {
	rel, err := filepath.Rel(m.base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if dir && m.gi.MatchesPath(rel+"/") {
		return true
	}
	return m.gi.MatchesPath(rel)
}

// Discover returns the files under paths in a stable order. A path naming a
// file is returned even when ignore rules would skip it during a walk.
// Only a path that does not exist yields an error, a *DiscoveryError.
func (l *Locator) Discover(paths []string) ([]File, error) {
	seen := make(map[string]bool)
	var out []File
	add := func(path string) {
		clean := filepath.Clean(path)
		if seen[clean] {
			return
		}
		seen[clean] = true
		ext := strings.ToLower(filepath.Ext(clean))
		supported := l.exts[ext]
		language := classifyLanguage(ext)
		if !supported && language == "" {
			return
		}
		out = append(out, File{Path: clean, Language: language, Supported: supported})
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, &DiscoveryError{Path: root, Err: err}
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		files, err := l.walk(root)
		if err != nil {
			return nil, &DiscoveryError{Path: root, Err: err}
		}
		for _, f := range files {
			add(f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (l *Locator) walk(root string) ([]string, error) {
	var matchers []matcher
	if len(l.patterns) > 0 {
		matchers = append(matchers, matcher{base: root, gi: ignore.CompileIgnoreLines(l.patterns...)})
	}
	ignored := func(path string, dir bool) bool {
		for _, m := range matchers {
			if m.matches(path, dir) {
				return true
			}
		}
		return false
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root && errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && (defaultIgnore[d.Name()] || ignored(path, true)) {
				return fs.SkipDir
			}
			for _, name := range IgnoreFiles {
				gi, err := ignore.CompileIgnoreFile(filepath.Join(path, name))
				if err == nil {
					matchers = append(matchers, matcher{base: path, gi: gi})
				}
			}
			return nil
		}
		if !d.Type().IsRegular() || ignored(path, false) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
