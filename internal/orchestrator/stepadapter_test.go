package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxfs/codeundo/internal/undo"
)

func newTestAdapterEngine(t *testing.T) *undo.Engine {
	t.Helper()
	root := t.TempDir()
	undoDir := filepath.Join(t.TempDir(), "undo")
	engine, err := undo.NewEngine(undo.Config{WorkingRoot: root, UndoDir: undoDir}, nil)
	require.NoError(t, err)
	return engine
}

func TestStepManagerAdapterDelegatesToEngine(t *testing.T) {
	engine := newTestAdapterEngine(t)
	adapter := NewStepManagerAdapter(engine)

	_, open := adapter.CurrentStep()
	assert.False(t, open)

	require.NoError(t, adapter.OpenStep(1))
	id, open := adapter.CurrentStep()
	require.True(t, open)
	assert.Equal(t, undo.StepID(1), id)

	evicted, err := adapter.CloseStep(1)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	_, open = adapter.CurrentStep()
	assert.False(t, open)
}
