package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers every flag a `serve` invocation accepts and binds
// each one to its viper key, the way gcsfuse's cfg.BindFlags binds one
// pflag per leaf field of Config.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("working-root", ".", "Directory whose mutations are tracked.")
	if err := viper.BindPFlag("undo.working-root", flagSet.Lookup("working-root")); err != nil {
		return err
	}

	flagSet.String("undo-dir", ".codeundo", "Directory the write-ahead log and step history are stored under.")
	if err := viper.BindPFlag("undo.undo-dir", flagSet.Lookup("undo-dir")); err != nil {
		return err
	}

	flagSet.String("symlink-policy", string(SymlinkReadOnly), "How to treat symlinks during preimage capture: ignore, read_only, or read_write.")
	if err := viper.BindPFlag("undo.symlink-policy", flagSet.Lookup("symlink-policy")); err != nil {
		return err
	}

	flagSet.StringSlice("ignore-pattern", nil, "Additional gitignore-style glob pattern, may be repeated; stored in the config but not applied by the undo engine, which honours only .gitignore files.")
	if err := viper.BindPFlag("undo.ignore-patterns", flagSet.Lookup("ignore-pattern")); err != nil {
		return err
	}

	flagSet.String("external-modification-policy", string(ExternalModBarrier), "How to react to changes outside any tracked step: barrier or warn.")
	if err := viper.BindPFlag("undo.external-modification-policy", flagSet.Lookup("external-modification-policy")); err != nil {
		return err
	}

	flagSet.Uint64("max-log-size-bytes", 0, "Maximum total undo-log size before the oldest steps are evicted; 0 means unlimited.")
	if err := viper.BindPFlag("resource-limits.max-log-size-bytes", flagSet.Lookup("max-log-size-bytes")); err != nil {
		return err
	}

	flagSet.Int("max-step-count", 0, "Maximum number of completed steps retained; 0 means unlimited.")
	if err := viper.BindPFlag("resource-limits.max-step-count", flagSet.Lookup("max-step-count")); err != nil {
		return err
	}

	flagSet.Uint64("max-single-step-size-bytes", 0, "Maximum preimage bytes captured within a single step before it is marked unprotected; 0 means unlimited.")
	if err := viper.BindPFlag("resource-limits.max-single-step-size-bytes", flagSet.Lookup("max-single-step-size-bytes")); err != nil {
		return err
	}

	flagSet.Uint64("delete-threshold", 0, "Number of deletes within one step that requires confirmation; 0 disables the safeguard.")
	if err := viper.BindPFlag("safeguards.delete-threshold", flagSet.Lookup("delete-threshold")); err != nil {
		return err
	}

	flagSet.Uint64("overwrite-file-size-threshold", 0, "File size in bytes above which a truncating overwrite requires confirmation; 0 disables the safeguard.")
	if err := viper.BindPFlag("safeguards.overwrite-file-size-threshold", flagSet.Lookup("overwrite-file-size-threshold")); err != nil {
		return err
	}

	flagSet.Bool("rename-over-existing", false, "Require confirmation when a rename would silently replace an existing destination.")
	if err := viper.BindPFlag("safeguards.rename-over-existing", flagSet.Lookup("rename-over-existing")); err != nil {
		return err
	}

	flagSet.Uint64("safeguard-timeout-seconds", DefaultSafeguardTimeoutSeconds, "Seconds to wait for a safeguard confirmation before denying automatically.")
	if err := viper.BindPFlag("safeguards.timeout-seconds", flagSet.Lookup("safeguard-timeout-seconds")); err != nil {
		return err
	}

	flagSet.Duration("idle-timeout", DefaultIdleTimeout, "Quiet period after step_completed before the step is closed.")
	if err := viper.BindPFlag("quiescence.idle-timeout", flagSet.Lookup("idle-timeout")); err != nil {
		return err
	}

	flagSet.Duration("max-timeout", DefaultMaxTimeout, "Upper bound on waiting for in-flight operations to drain after step_completed.")
	if err := viper.BindPFlag("quiescence.max-timeout", flagSet.Lookup("max-timeout")); err != nil {
		return err
	}

	flagSet.Duration("ambient-inactivity-timeout", DefaultAmbientInactivityTimeout, "Idle period after which an open ambient step auto-closes.")
	if err := viper.BindPFlag("quiescence.ambient-inactivity-timeout", flagSet.Lookup("ambient-inactivity-timeout")); err != nil {
		return err
	}

	flagSet.String("log-format", "text", "Log output format: json or text.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.String("log-severity", "INFO", "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Path to write logs to; empty means stderr.")
	return viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
}

// FromViper reads every bound key back into a Config, applying whatever
// layering viper has already set up (flags, env, config file, defaults).
func FromViper() Config {
	c := Default()
	c.Undo.WorkingRoot = viper.GetString("undo.working-root")
	c.Undo.UndoDir = viper.GetString("undo.undo-dir")
	c.Undo.SymlinkPolicy = SymlinkPolicy(viper.GetString("undo.symlink-policy"))
	c.Undo.IgnorePatterns = viper.GetStringSlice("undo.ignore-patterns")
	c.Undo.ExternalModificationPolicy = ExternalModificationPolicy(viper.GetString("undo.external-modification-policy"))

	if v := viper.GetUint64("resource-limits.max-log-size-bytes"); v != 0 {
		c.ResourceLimits.MaxLogSizeBytes = &v
	}
	if v := viper.GetInt("resource-limits.max-step-count"); v != 0 {
		c.ResourceLimits.MaxStepCount = &v
	}
	if v := viper.GetUint64("resource-limits.max-single-step-size-bytes"); v != 0 {
		c.ResourceLimits.MaxSingleStepSizeBytes = &v
	}

	if v := viper.GetUint64("safeguards.delete-threshold"); v != 0 {
		c.Safeguards.DeleteThreshold = &v
	}
	if v := viper.GetUint64("safeguards.overwrite-file-size-threshold"); v != 0 {
		c.Safeguards.OverwriteFileSizeThreshold = &v
	}
	c.Safeguards.RenameOverExisting = viper.GetBool("safeguards.rename-over-existing")
	if v := viper.GetUint64("safeguards.timeout-seconds"); v != 0 {
		c.Safeguards.TimeoutSeconds = v
	}

	if v := viper.GetDuration("quiescence.idle-timeout"); v != 0 {
		c.Quiescence.IdleTimeout = v
	}
	if v := viper.GetDuration("quiescence.max-timeout"); v != 0 {
		c.Quiescence.MaxTimeout = v
	}
	if v := viper.GetDuration("quiescence.ambient-inactivity-timeout"); v != 0 {
		c.Quiescence.AmbientInactivityTimeout = v
	}

	c.Logging.Format = viper.GetString("logging.format")
	c.Logging.Severity = viper.GetString("logging.severity")
	c.Logging.FilePath = viper.GetString("logging.file-path")

	return c
}
