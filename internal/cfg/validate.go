package cfg

import "fmt"

// Validate checks field combinations BindFlags and Default can't rule out
// by construction. Grounded on cfg/validate.go's isValidXxxConfig style:
// one small checker per sub-config, called in sequence from Validate.
func (c *Config) Validate() error {
	if err := validateUndo(&c.Undo); err != nil {
		return err
	}
	if err := validateSafeguards(&c.Safeguards); err != nil {
		return err
	}
	if err := validateQuiescence(&c.Quiescence); err != nil {
		return err
	}
	return validateLogging(&c.Logging)
}

func validateUndo(u *UndoConfig) error {
	if u.WorkingRoot == "" {
		return fmt.Errorf("undo.working-root must not be empty")
	}
	if u.UndoDir == "" {
		return fmt.Errorf("undo.undo-dir must not be empty")
	}
	switch u.SymlinkPolicy {
	case SymlinkIgnore, SymlinkReadOnly, SymlinkReadWrite:
	default:
		return fmt.Errorf("undo.symlink-policy %q is not one of ignore, read_only, read_write", u.SymlinkPolicy)
	}
	switch u.ExternalModificationPolicy {
	case ExternalModBarrier, ExternalModWarn:
	default:
		return fmt.Errorf("undo.external-modification-policy %q is not one of barrier, warn", u.ExternalModificationPolicy)
	}
	return nil
}

func validateSafeguards(s *SafeguardConfig) error {
	if s.TimeoutSeconds == 0 {
		return fmt.Errorf("safeguards.timeout-seconds must be greater than zero")
	}
	return nil
}

func validateQuiescence(q *QuiescenceConfig) error {
	if q.IdleTimeout <= 0 {
		return fmt.Errorf("quiescence.idle-timeout must be greater than zero")
	}
	if q.MaxTimeout < q.IdleTimeout {
		return fmt.Errorf("quiescence.max-timeout must be at least idle-timeout")
	}
	if q.AmbientInactivityTimeout <= 0 {
		return fmt.Errorf("quiescence.ambient-inactivity-timeout must be greater than zero")
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", l.Format)
	}
	switch l.Severity {
	case "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF":
	default:
		return fmt.Errorf("logging.severity %q is not a recognized level", l.Severity)
	}
	return nil
}
