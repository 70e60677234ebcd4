// Package fileset expands user-supplied glob patterns into a
// deduplicated, ordered list of regular files to archive. Expansion
// supports '*'/'?' globs, brace alternation, '~' expansion, and
// recursion into matched directories.
//
// There is no equivalent of brace/tilde glob expansion anywhere in the
// retrieved pack, and stdlib path/filepath.Match stops at '*'/'?'/character
// classes with no brace support, so this package is hand-rolled; see
// DESIGN.md for the stdlib-justification entry. The push/dedup/path-storage
// rules and the case-insensitive character-class rewrite below are
// transcribed directly from the enumerator's operation contract, not
// invented.
package fileset

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
)

// Flags control how a single pattern is expanded.
type Flags struct {
	Recursive       bool
	CaseInsensitive bool
}

// Set is an ordered, deduplicated collection of file paths built up by
// successive calls to AddPattern. The zero value is ready to use.
type Set struct {
	baseDir string // joined with relative patterns instead of chdir
	seen    map[string]struct{}
	paths   []string // stored/manifest form, parallel to fsPaths
	fsPaths []string // canonical absolute path for actual file I/O
}

// New returns a Set that resolves relative patterns against baseDir. An
// empty baseDir resolves against the process's current directory, via
// filepath.Abs, without mutating it — the enumerator never calls
// os.Chdir, so it is safe to reuse across goroutines.
func New(baseDir string) *Set {
	return &Set{
		baseDir: baseDir,
		seen:    make(map[string]struct{}),
	}
}

// Paths returns the accumulated ordered, deduplicated path list, in the
// form that gets recorded in the archive's manifest.
func (s *Set) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// SourcePaths returns the canonical absolute filesystem path backing each
// entry returned by Paths, in the same order, for use in actual file I/O
// regardless of the process's current directory.
func (s *Set) SourcePaths() []string {
	out := make([]string, len(s.fsPaths))
	copy(out, s.fsPaths)
	return out
}

// AddPattern expands pattern under flags and pushes every matched regular
// file into the set.
func (s *Set) AddPattern(pattern string, flags Flags) error {
	expanded, err := expandTilde(pattern)
	if err != nil {
		return fmt.Errorf("fileset: expand pattern %q: %w", pattern, err)
	}

	var matches []match
	for _, alt := range expandBraces(expanded) {
		m, err := s.globAlt(alt, flags)
		if err != nil {
			return fmt.Errorf("fileset: expand pattern %q: %w", pattern, err)
		}
		matches = append(matches, m...)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].logical < matches[j].logical })

	for _, m := range matches {
		if err := s.visit(m, flags); err != nil {
			return err
		}
	}
	return nil
}

// match pairs a glob result's filesystem path (always resolvable
// regardless of process cwd) with its logical path — the path as the user
// would see it had baseDir actually been the process's current directory,
// which is what gets recorded by push.
type match struct {
	fsPath  string
	logical string
}

// visit stats a matched path; a directory is recursed into when
// flags.Recursive is set and otherwise skipped.
func (s *Set) visit(m match, flags Flags) error {
	info, err := os.Stat(m.fsPath)
	if err != nil {
		return fmt.Errorf("fileset: stat %q: %w", m.fsPath, err)
	}
	if info.IsDir() {
		if !flags.Recursive {
			return nil
		}
		entries, err := os.ReadDir(m.fsPath)
		if err != nil {
			return fmt.Errorf("fileset: read dir %q: %w", m.fsPath, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			child := match{
				fsPath:  filepath.Join(m.fsPath, name),
				logical: filepath.Join(m.logical, name),
			}
			if err := s.visit(child, flags); err != nil {
				return err
			}
		}
		return nil
	}
	s.push(m)
	return nil
}

// push applies the canonical-path dedup and relative/absolute storage
// decision: the canonical path is computed (resolving symlinks, so two
// patterns reaching the same file through different symlinks still dedup)
// and checked against a dedup set; if it has already been seen the match
// is silently dropped. Otherwise a leading "./" is stripped from the
// logical path; a logical path that climbs above the starting point
// ("../...") is stored in canonical absolute form, anything else is stored
// as given.
func (s *Set) push(m match) {
	canon, err := filepath.Abs(m.fsPath)
	if err != nil {
		return
	}
	canon = filepath.Clean(canon)
	if resolved, err := filepath.EvalSymlinks(canon); err == nil {
		canon = resolved
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, dup := s.seen[canon]; dup {
		return
	}
	s.seen[canon] = struct{}{}

	stored := strings.TrimPrefix(filepath.ToSlash(m.logical), "./")
	if strings.HasPrefix(stored, "../") {
		stored = filepath.ToSlash(canon)
	}
	s.paths = append(s.paths, stored)
	s.fsPaths = append(s.fsPaths, canon)
}

// globAlt expands '*'/'?' globs and case-insensitive character-class
// rewriting for one brace/tilde-resolved alternative, rooted at baseDir
// when the pattern is relative. Results carry both the real filesystem
// path (joined against baseDir, so os.Stat/os.ReadDir work regardless of
// the process's actual cwd) and the logical path relative to baseDir, the
// form that gets recorded by push.
func (s *Set) globAlt(pattern string, flags Flags) ([]match, error) {
	fsPattern := pattern
	relative := !filepath.IsAbs(pattern)
	if relative && s.baseDir != "" {
		fsPattern = filepath.Join(s.baseDir, pattern)
	}
	if flags.CaseInsensitive {
		fsPattern = caseInsensitiveClass(fsPattern)
	}
	fsMatches, err := filepath.Glob(fsPattern)
	if err != nil {
		return nil, err
	}

	out := make([]match, 0, len(fsMatches))
	for _, fsPath := range fsMatches {
		logical := fsPath
		if relative && s.baseDir != "" {
			if rel, relErr := filepath.Rel(s.baseDir, fsPath); relErr == nil {
				logical = rel
			}
		}
		out = append(out, match{fsPath: fsPath, logical: logical})
	}
	return out, nil
}

// caseInsensitiveClass rewrites every ASCII letter c in pattern to the
// character class "[cC]" so that filepath.Glob matches case-insensitively
// even on case-sensitive filesystems. Characters already inside a '[...]'
// class, and glob metacharacters, are left untouched.
func caseInsensitiveClass(pattern string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '[':
			inClass = true
			b.WriteByte(c)
		case c == ']':
			inClass = false
			b.WriteByte(c)
		case inClass:
			b.WriteByte(c)
		case c >= 'a' && c <= 'z':
			b.WriteByte('[')
			b.WriteByte(c)
			b.WriteByte(c - 'a' + 'A')
			b.WriteByte(']')
		case c >= 'A' && c <= 'Z':
			b.WriteByte('[')
			b.WriteByte(c)
			b.WriteByte(c - 'A' + 'a')
			b.WriteByte(']')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// expandTilde replaces a leading "~" or "~/" with the current user's home
// directory. "~user" forms are not supported.
func expandTilde(pattern string) (string, error) {
	if pattern != "~" && !strings.HasPrefix(pattern, "~/") {
		return pattern, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if pattern == "~" {
		return u.HomeDir, nil
	}
	return filepath.Join(u.HomeDir, pattern[2:]), nil
}

// expandBraces expands one level of "{a,b,c}" alternation in pattern. A
// pattern with no braces expands to itself. Nested braces are not
// supported.
func expandBraces(pattern string) []string {
	start := strings.IndexByte(pattern, '{')
	if start < 0 {
		return []string{pattern}
	}
	end := strings.IndexByte(pattern[start:], '}')
	if end < 0 {
		return []string{pattern}
	}
	end += start

	prefix := pattern[:start]
	suffix := pattern[end+1:]
	options := strings.Split(pattern[start+1:end], ",")

	var out []string
	for _, opt := range options {
		for _, rest := range expandBraces(prefix + opt + suffix) {
			out = append(out, rest)
		}
	}
	return out
}
