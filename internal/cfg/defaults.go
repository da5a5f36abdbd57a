package cfg

import "time"

// Default threshold values, mirroring undo.DefaultSafeguardConfig's
// "everything off except the confirmation timeout" stance.
const (
	DefaultSafeguardTimeoutSeconds = 30
	DefaultIdleTimeout             = 2 * time.Second
	DefaultMaxTimeout              = 30 * time.Second
	DefaultAmbientInactivityTimeout = 5 * time.Second
)

// Default returns the configuration used when no flags or config file
// override it: undo log under ".codeundo" beneath the working root, no
// resource limits, no safeguard thresholds, barrier on external
// modification, text logging at INFO.
func Default() Config {
	return Config{
		Undo: UndoConfig{
			WorkingRoot:                ".",
			UndoDir:                    ".codeundo",
			SymlinkPolicy:              SymlinkReadOnly,
			ExternalModificationPolicy: ExternalModBarrier,
		},
		ResourceLimits: ResourceLimitsConfig{},
		Safeguards: SafeguardConfig{
			TimeoutSeconds: DefaultSafeguardTimeoutSeconds,
		},
		Quiescence: QuiescenceConfig{
			IdleTimeout:              DefaultIdleTimeout,
			MaxTimeout:               DefaultMaxTimeout,
			AmbientInactivityTimeout: DefaultAmbientInactivityTimeout,
		},
		Logging: LoggingConfig{
			Format:   "text",
			Severity: "INFO",
		},
	}
}
