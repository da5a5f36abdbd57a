package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := Default()
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownSymlinkPolicy(t *testing.T) {
	c := Default()
	c.Undo.SymlinkPolicy = "garbage"
	assert.Error(t, c.Validate())
}

func TestValidateRejectsEmptyWorkingRoot(t *testing.T) {
	c := Default()
	c.Undo.WorkingRoot = ""
	assert.Error(t, c.Validate())
}

func TestValidateRejectsZeroSafeguardTimeout(t *testing.T) {
	c := Default()
	c.Safeguards.TimeoutSeconds = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsMaxTimeoutBelowIdleTimeout(t *testing.T) {
	c := Default()
	c.Quiescence.MaxTimeout = c.Quiescence.IdleTimeout / 2
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	c := Default()
	c.Logging.Format = "xml"
	assert.Error(t, c.Validate())
}

func TestResourceLimitsConfigToUndoPreservesPointers(t *testing.T) {
	limit := uint64(4096)
	r := ResourceLimitsConfig{MaxSingleStepSizeBytes: &limit}
	converted := r.ToUndo()
	assert.Equal(t, &limit, converted.MaxSingleStepSizeBytes)
}
