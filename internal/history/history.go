// Package history collects the version-control history of a unit's line
// range. History is enrichment: every failure degrades to an empty list.
package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/lang"
)

// Git is the VCS capability used by the collector.
type Git interface {
	// FindRepoRoot returns the nearest ancestor of path holding VCS metadata.
	FindRepoRoot(path string) (string, bool)
	// LineHistory returns commits touching lines start..end (1-based,
	// inclusive) of relPath, most recent first, at most limit entries.
	LineHistory(ctx context.Context, repoRoot, relPath string, start, end, limit int) ([]facts.Commit, error)
}

// FindRepoRoot walks upward from path to the nearest directory containing a
// .git entry. A .git file (worktrees, submodules) counts as well.
func FindRepoRoot(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	dir := abs
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		dir = filepath.Dir(abs)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// CLI implements Git with the git command line tool.
type CLI struct {
	// Binary defaults to "git" on PATH.
	Binary string
}

func (g CLI) binary() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

// FindRepoRoot implements Git.
func (g CLI) FindRepoRoot(path string) (string, bool) { return FindRepoRoot(path) }

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

// LineHistory runs git's native line-range log (git log -L).
func (g CLI) LineHistory(ctx context.Context, repoRoot, relPath string, start, end, limit int) ([]facts.Commit, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("history: invalid line range %d,%d", start, end)
	}
	// git log -L counts lines in HEAD; uncommitted edits shift them.
	hunks, err := g.worktreeHunks(ctx, repoRoot, relPath)
	if err != nil {
		return nil, err
	}
	start, end, ok := mapRange(hunks, start, end)
	if !ok {
		return nil, nil
	}
	args := []string{
		"-C", repoRoot,
		"log",
		"--no-color",
		"--date=short",
		"--format=" + recordSep + "%H" + fieldSep + "%h" + fieldSep + "%ad" + fieldSep + "%s",
		"-L" + strconv.Itoa(start) + "," + strconv.Itoa(end) + ":" + relPath,
	}
	if limit > 0 {
		args = append(args, "--max-count="+strconv.Itoa(limit))
	}
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("history: git: %w", err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("history: git log -L: %s", msg)
	}
	return parseLog(string(out)), nil
}

// hunk is one change between HEAD and the working tree, in the line counts
// of a zero-context unified diff header.
type hunk struct {
	oldStart, oldLen int
	newStart, newLen int
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// worktreeHunks returns the uncommitted changes of relPath against HEAD.
// A clean file has no hunks.
func (g CLI) worktreeHunks(ctx context.Context, repoRoot, relPath string) ([]hunk, error) {
	cmd := exec.CommandContext(ctx, g.binary(), "-C", repoRoot,
		"diff", "--no-color", "--no-ext-diff", "-U0", "HEAD", "--", relPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("history: git: %w", err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("history: git diff: %s", msg)
	}
	return parseHunks(string(out)), nil
}

// parseHunks reads the hunk headers of a -U0 diff of one file.
func parseHunks(diff string) []hunk {
	var out []hunk
	for _, line := range strings.Split(diff, "\n") {
		m := hunkHeaderRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, hunk{
			oldStart: atoi(m[1]), oldLen: count(m[2]),
			newStart: atoi(m[3]), newLen: count(m[4]),
		})
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// count is a hunk length; an omitted length means one line.
func count(s string) int {
	if s == "" {
		return 1
	}
	return atoi(s)
}

// headLine maps working-tree line n to its HEAD line number. added is set
// when the line does not exist in HEAD.
func headLine(hunks []hunk, n int) (head int, added bool) {
	delta := 0
	for _, h := range hunks {
		if h.newLen == 0 {
			// Pure deletion after line newStart.
			if h.newStart < n {
				delta += h.oldLen
				continue
			}
			break
		}
		last := h.newStart + h.newLen - 1
		if n >= h.newStart && n <= last {
			return 0, true
		}
		if last >= n {
			break
		}
		delta += h.oldLen - h.newLen
	}
	return n + delta, false
}

// mapRange maps the working-tree range start..end to HEAD, trimming lines
// that only exist in the working tree from both ends. ok is false when no
// line of the range exists in HEAD.
func mapRange(hunks []hunk, start, end int) (int, int, bool) {
	if len(hunks) == 0 {
		return start, end, true
	}
	s := start
	for ; s <= end; s++ {
		if _, added := headLine(hunks, s); !added {
			break
		}
	}
	e := end
	for ; e >= s; e-- {
		if _, added := headLine(hunks, e); !added {
			break
		}
	}
	if s > end || e < s {
		return 0, 0, false
	}
	hs, _ := headLine(hunks, s)
	he, _ := headLine(hunks, e)
	return hs, he, true
}

// parseLog splits git log output into commits. Each record starts with the
// formatted header line; the rest of the record is the line-range patch.
func parseLog(out string) []facts.Commit {
	var commits []facts.Commit
	for _, rec := range strings.Split(out, recordSep) {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		header, patch, _ := strings.Cut(rec, "\n")
		fields := strings.Split(header, fieldSep)
		if len(fields) < 4 {
			continue
		}
		commits = append(commits, facts.Commit{
			Hash:    fields[1],
			Date:    fields[2],
			Subject: strings.TrimSpace(strings.Join(fields[3:], fieldSep)),
			Diff:    strings.TrimSpace(patch),
		})
	}
	return commits
}

// Collector gathers HistoryFacts with bounded git concurrency per
// repository root.
type Collector struct {
	git     Git
	perRoot int64
	log     *zap.SugaredLogger

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewCollector returns a collector running at most perRoot concurrent git
// queries against any one repository.
func NewCollector(git Git, perRoot int, log *zap.SugaredLogger) *Collector {
	if perRoot < 1 {
		perRoot = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Collector{git: git, perRoot: int64(perRoot), log: log, sems: make(map[string]*semaphore.Weighted)}
}

func (c *Collector) rootSem(root string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sems[root]
	if !ok {
		s = semaphore.NewWeighted(c.perRoot)
		c.sems[root] = s
	}
	return s
}

// Collect returns at most limit commits touching unit's lines, most recent
// first. It never fails: untracked files, missing repositories and a missing
// git binary all yield an empty history.
func (c *Collector) Collect(ctx context.Context, unit *lang.Unit, limit int) facts.History {
	if limit == 0 {
		return facts.History{}
	}
	abs, err := filepath.Abs(unit.Path)
	if err != nil {
		return facts.History{}
	}
	root, ok := c.git.FindRepoRoot(abs)
	if !ok {
		c.log.Debugw("history unavailable", "file", unit.Path, "reason", "no repository root")
		return facts.History{}
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return facts.History{}
	}

	sem := c.rootSem(root)
	if err := sem.Acquire(ctx, 1); err != nil {
		return facts.History{}
	}
	commits, err := c.git.LineHistory(ctx, root, filepath.ToSlash(rel), unit.StartLine, unit.EndLine, limit)
	sem.Release(1)
	if err != nil {
		var execErr *exec.Error
		reason := err.Error()
		if errors.As(err, &execErr) {
			reason = "git not available"
		}
		c.log.Debugw("history unavailable", "file", unit.Path, "unit", unit.QualifiedName, "reason", reason)
		return facts.History{}
	}
	return dedupe(commits, limit)
}

// dedupe drops repeated entries of the very same commit and truncates to
// limit. Distinct commits with equal subjects are kept.
func dedupe(commits []facts.Commit, limit int) facts.History {
	out := facts.History{}
	seen := make(map[string]bool)
	for _, cm := range commits {
		if seen[cm.Hash] {
			continue
		}
		seen[cm.Hash] = true
		out = append(out, cm)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
