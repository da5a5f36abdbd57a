package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxfs/codeundo/internal/cfg"
	"github.com/sandboxfs/codeundo/internal/undo"
)

func testSessionConfig(t *testing.T) *cfg.Config {
	t.Helper()
	return &cfg.Config{
		Undo: cfg.UndoConfig{
			WorkingRoot: t.TempDir(),
			UndoDir:     filepath.Join(t.TempDir(), "undo"),
		},
		Safeguards: cfg.SafeguardConfig{TimeoutSeconds: 5},
	}
}

func TestNewSessionBuildsEngineAndHandler(t *testing.T) {
	session, err := NewSession(testSessionConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, session.Engine)
	assert.NotNil(t, session.Bridge)
	assert.NotNil(t, session.Handler)
	assert.NotEqual(t, session.ID.String(), "")
}

func TestNextCommandStepIDIsSequentialStartingAtOne(t *testing.T) {
	session, err := NewSession(testSessionConfig(t))
	require.NoError(t, err)

	assert.Equal(t, undo.StepID(1), session.NextCommandStepID())
	assert.Equal(t, undo.StepID(2), session.NextCommandStepID())
	assert.Equal(t, undo.StepID(3), session.NextCommandStepID())
}

func TestNextDirectAPIStepIDStartsAtReservedBase(t *testing.T) {
	session, err := NewSession(testSessionConfig(t))
	require.NoError(t, err)

	first := session.NextDirectAPIStepID()
	assert.Equal(t, DirectAPIStepIDBase, first)
	assert.Equal(t, DirectAPIStepIDBase+1, session.NextDirectAPIStepID())
}

func TestCommandAndDirectStepIDSequencesDoNotCollide(t *testing.T) {
	session, err := NewSession(testSessionConfig(t))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.Less(t, session.NextCommandStepID(), DirectAPIStepIDBase)
	}
}

func TestWaitWithoutMountReturnsError(t *testing.T) {
	session, err := NewSession(testSessionConfig(t))
	require.NoError(t, err)

	err = session.Wait(nil)
	assert.Error(t, err)
}

func TestUnmountWithoutMountIsNoop(t *testing.T) {
	session, err := NewSession(testSessionConfig(t))
	require.NoError(t, err)

	assert.NoError(t, session.Unmount())
}
