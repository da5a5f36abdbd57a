// Package cfg defines the configuration surface for a codeundo-sandbox
// session: undo-log placement, resource limits, safeguard thresholds,
// quiescence timing, and logging. Grounded on gcsfuse's cfg.Config pattern
// (a nested struct bound to pflag and read through viper), trimmed to one
// flat package since this project has no config-generator tooling.
package cfg

import (
	"time"

	"github.com/sandboxfs/codeundo/internal/control"
	"github.com/sandboxfs/codeundo/internal/undo"
)

// SymlinkPolicy controls how the undo engine treats symlinks it encounters
// while capturing preimages or rolling back.
type SymlinkPolicy string

const (
	SymlinkIgnore    SymlinkPolicy = "ignore"
	SymlinkReadOnly  SymlinkPolicy = "read_only"
	SymlinkReadWrite SymlinkPolicy = "read_write"
)

// ExternalModificationPolicy names the reaction to a path changed outside
// of any tracked step: barrier or warn. It is validated but not passed to
// the undo engine, which does no external-modification detection; barriers
// are created only by explicit Engine.CreateBarrier calls.
type ExternalModificationPolicy string

const (
	ExternalModBarrier ExternalModificationPolicy = "barrier"
	ExternalModWarn     ExternalModificationPolicy = "warn"
)

// UndoConfig locates the working root and its undo log, and selects the
// symlink policy the undo engine applies during capture and rollback.
type UndoConfig struct {
	WorkingRoot   string        `yaml:"working-root"`
	UndoDir       string        `yaml:"undo-dir"`
	SymlinkPolicy SymlinkPolicy `yaml:"symlink-policy"`

	// IgnorePatterns holds additional gitignore-style glob patterns. They
	// are parsed and stored but not passed to the undo engine: first-touch
	// preimage capture skips only paths matched by the working root's own
	// .gitignore files. See `crates/interceptor/src/gitignore.rs`.
	IgnorePatterns []string `yaml:"ignore-patterns"`

	ExternalModificationPolicy ExternalModificationPolicy `yaml:"external-modification-policy"`
}

// ResourceLimitsConfig bounds how large the undo log is allowed to grow.
type ResourceLimitsConfig struct {
	MaxLogSizeBytes        *uint64 `yaml:"max-log-size-bytes"`
	MaxStepCount           *int    `yaml:"max-step-count"`
	MaxSingleStepSizeBytes *uint64 `yaml:"max-single-step-size-bytes"`
}

// ToUndo converts to the type internal/undo's engine is configured with.
func (r ResourceLimitsConfig) ToUndo() undo.ResourceLimitsConfig {
	return undo.ResourceLimitsConfig{
		MaxLogSizeBytes:        r.MaxLogSizeBytes,
		MaxStepCount:           r.MaxStepCount,
		MaxSingleStepSizeBytes: r.MaxSingleStepSizeBytes,
	}
}

// SafeguardConfig sets the thresholds that require explicit confirmation
// before a potentially destructive operation proceeds.
type SafeguardConfig struct {
	DeleteThreshold            *uint64 `yaml:"delete-threshold"`
	OverwriteFileSizeThreshold *uint64 `yaml:"overwrite-file-size-threshold"`
	RenameOverExisting         bool    `yaml:"rename-over-existing"`
	TimeoutSeconds             uint64  `yaml:"timeout-seconds"`
}

// ToUndo converts to the type internal/undo's engine is configured with.
func (s SafeguardConfig) ToUndo() undo.SafeguardConfig {
	return undo.SafeguardConfig{
		DeleteThreshold:            s.DeleteThreshold,
		OverwriteFileSizeThreshold: s.OverwriteFileSizeThreshold,
		RenameOverExisting:         s.RenameOverExisting,
		TimeoutSeconds:             s.TimeoutSeconds,
	}
}

// QuiescenceConfig controls how long the control-channel handler waits for
// filesystem activity to settle around command and ambient step
// boundaries. Strings are parsed with time.ParseDuration at bind time.
type QuiescenceConfig struct {
	IdleTimeout              time.Duration `yaml:"idle-timeout"`
	MaxTimeout               time.Duration `yaml:"max-timeout"`
	AmbientInactivityTimeout time.Duration `yaml:"ambient-inactivity-timeout"`
}

// ToControl converts to the type internal/control's handler is configured
// with.
func (q QuiescenceConfig) ToControl() control.QuiescenceConfig {
	return control.QuiescenceConfig{
		IdleTimeout:              q.IdleTimeout,
		MaxTimeout:               q.MaxTimeout,
		AmbientInactivityTimeout: q.AmbientInactivityTimeout,
	}
}

// LoggingConfig selects the structured-logging format, minimum severity,
// and optional destination file for internal/logger.
type LoggingConfig struct {
	Format   string `yaml:"format"`
	Severity string `yaml:"severity"`
	FilePath string `yaml:"file-path"`
}

// Config is the full configuration surface for one codeundo-sandbox
// session.
type Config struct {
	Undo           UndoConfig           `yaml:"undo"`
	ResourceLimits ResourceLimitsConfig `yaml:"resource-limits"`
	Safeguards     SafeguardConfig      `yaml:"safeguards"`
	Quiescence     QuiescenceConfig     `yaml:"quiescence"`
	Logging        LoggingConfig        `yaml:"logging"`
}
