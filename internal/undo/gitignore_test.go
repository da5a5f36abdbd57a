package undo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGitignoreFilterReturnsNilWithoutAnyRules(t *testing.T) {
	root := t.TempDir()
	assert.Nil(t, buildGitignoreFilter(root))
}

func TestBuildGitignoreFilterMatchesRootPattern(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\nbuild/\n"), 0o644))

	filter := buildGitignoreFilter(root)
	require.NotNil(t, filter)
	assert.True(t, filter.isIgnored("debug.log"))
	assert.True(t, filter.isIgnored("build/output.bin"))
	assert.False(t, filter.isIgnored("main.go"))
}

func TestBuildGitignoreFilterPrefixesNestedRules(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, ".gitignore"), []byte("*.tmp\n"), 0o644))

	filter := buildGitignoreFilter(root)
	require.NotNil(t, filter)
	assert.True(t, filter.isIgnored("sub/scratch.tmp"))
	assert.False(t, filter.isIgnored("scratch.tmp"))
}

func TestBuildGitignoreFilterIncludesGitInfoExclude(t *testing.T) {
	root := t.TempDir()
	excludeDir := filepath.Join(root, ".git", "info")
	require.NoError(t, os.MkdirAll(excludeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(excludeDir, "exclude"), []byte("secrets.env\n"), 0o644))

	filter := buildGitignoreFilter(root)
	require.NotNil(t, filter)
	assert.True(t, filter.isIgnored("secrets.env"))
}

func TestIsIgnoredOnNilFilterIsFalse(t *testing.T) {
	var filter *gitignoreFilter
	assert.False(t, filter.isIgnored("anything"))
}

func TestPrefixLinesPassesThroughCommentsAndBlankLines(t *testing.T) {
	out := prefixLines("# comment\n\n*.log\n", "sub")
	assert.Equal(t, []string{"# comment", "", "/sub/*.log"}, out)
}

func TestPrefixLinesHandlesNegation(t *testing.T) {
	out := prefixLines("!keep.log\n", "sub")
	assert.Equal(t, []string{"!/sub/keep.log"}, out)
}
