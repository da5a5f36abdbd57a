package undo

import (
	"os"
	"path/filepath"

	gitignore "github.com/crackcomm/go-gitignore"
)

// gitignoreFilter wraps a compiled set of gitignore rules gathered from
// every .gitignore under a working root plus .git/info/exclude, and answers
// whether a relative path should be skipped for preimage capture.
type gitignoreFilter struct {
	matcher gitignore.GitIgnore
}

// buildGitignoreFilter discovers .gitignore files under workingRoot and
// .git/info/exclude if present, and compiles them into a single matcher.
// Returns nil when no gitignore sources are found.
func buildGitignoreFilter(workingRoot string) *gitignoreFilter {
	var lines []string

	excludePath := filepath.Join(workingRoot, ".git", "info", "exclude")
	if data, err := os.ReadFile(excludePath); err == nil {
		lines = append(lines, splitLines(string(data))...)
	}

	discoverGitignoreFiles(workingRoot, workingRoot, &lines)

	if len(lines) == 0 {
		return nil
	}

	matcher := gitignore.CompileIgnoreLines(lines...)
	return &gitignoreFilter{matcher: matcher}
}

func discoverGitignoreFiles(dir, workingRoot string, lines *[]string) {
	gitignorePath := filepath.Join(dir, ".gitignore")
	if data, err := os.ReadFile(gitignorePath); err == nil {
		prefix, _ := filepath.Rel(workingRoot, dir)
		*lines = append(*lines, prefixLines(string(data), prefix)...)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".git" {
			continue
		}
		discoverGitignoreFiles(filepath.Join(dir, entry.Name()), workingRoot, lines)
	}
}

// isIgnored reports whether relativePath (forward-slash, relative to the
// working root) matches a discovered gitignore rule.
func (f *gitignoreFilter) isIgnored(relativePath string) bool {
	if f == nil || f.matcher == nil {
		return false
	}
	return f.matcher.MatchesPath(relativePath)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, trimCR(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, trimCR(s[start:]))
	}
	return out
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

// prefixLines rewrites gitignore patterns found in a nested .gitignore so
// they apply relative to the working root rather than their own directory.
// Blank and comment lines pass through unchanged; every other pattern,
// rooted ("/foo") or not, is anchored under the nested directory's prefix.
// With a root-level prefix all lines pass through unchanged.
func prefixLines(data, prefix string) []string {
	lines := splitLines(data)
	if prefix == "" || prefix == "." {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" || line[0] == '#' {
			out = append(out, line)
			continue
		}
		negate := line[0] == '!'
		pattern := line
		if negate {
			pattern = line[1:]
		}
		if pattern == "" {
			out = append(out, line)
			continue
		}
		if pattern[0] != '/' {
			pattern = "/" + pattern
		}
		rewritten := "/" + prefix + pattern
		if negate {
			rewritten = "!" + rewritten
		}
		out = append(out, rewritten)
	}
	return out
}
