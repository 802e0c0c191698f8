package locator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func rels(t *testing.T, root string, files []File) []string {
	t.Helper()
	var out []string
	for _, f := range files {
		rel, err := filepath.Rel(root, f.Path)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiscoverClassifies(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/main.py":       "x = 1\n",
		"app/util.ts":       "export {}\n",
		"app/server.go":     "package app\n",
		"README.md":         "# readme\n",
		"node_modules/x.js": "module.exports = 1\n",
	})
	files, err := New([]string{".py", ".ts"}, nil).Discover([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	got := rels(t, root, files)
	want := []string{"app/main.py", "app/server.go", "app/util.ts"}
	if !equal(got, want) {
		t.Fatalf("Discover = %v, want %v", got, want)
	}
	if !files[0].Supported || files[1].Supported || files[1].Language != "go" || !files[2].Supported {
		t.Errorf("classification wrong: %+v", files)
	}
}

func TestDiscoverHonoursIgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":           "generated/\n*.gen.py\n",
		"pkg/.agentspecignore": "legacy.py\n",
		"pkg/legacy.py":        "x = 1\n",
		"pkg/keep.py":          "x = 1\n",
		"pkg/models.gen.py":    "x = 1\n",
		"generated/out.py":     "x = 1\n",
		"other/legacy.py":      "x = 1\n",
		"scripts/tool.py":      "x = 1\n",
	})
	files, err := New([]string{".py"}, []string{"scripts/"}).Discover([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	got := rels(t, root, files)
	want := []string{"other/legacy.py", "pkg/keep.py"}
	if !equal(got, want) {
		t.Errorf("Discover = %v, want %v", got, want)
	}
}

func TestDiscoverExplicitFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.py": "x = 1\n", "b.rb": "x = 1\n"})
	files, err := New([]string{".py"}, nil).Discover([]string{
		filepath.Join(root, "a.py"),
		filepath.Join(root, "b.rb"),
		filepath.Join(root, "a.py"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || !files[0].Supported || files[1].Supported || files[1].Language != "ruby" {
		t.Errorf("Discover = %+v", files)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := New([]string{".py"}, nil).Discover([]string{filepath.Join(t.TempDir(), "nope")})
	var de *DiscoveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DiscoveryError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("DiscoveryError should wrap the stat error")
	}
}
