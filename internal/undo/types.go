// Package undo implements crash-safe, reversible tracking of filesystem
// mutations: preimage capture, manifests, a write-ahead log, rollback, crash
// recovery, resource-budget eviction, and safeguard arbitration.
package undo

import "time"

// StepID identifies an undo step. Positive IDs are command steps; negative
// IDs are ambient steps; IDs at or above DirectAPIStepIDBase are reserved for
// steps opened directly through an API rather than the command channel.
type StepID int64

// DirectAPIStepIDBase is the first step ID reserved for direct-API steps,
// keeping them out of the command/ambient step ID space.
const DirectAPIStepIDBase StepID = 1 << 40

// BarrierID identifies an undo barrier. Monotonically increasing per session.
type BarrierID uint64

// SafeguardID identifies a triggered safeguard instance. Monotonically
// increasing per session.
type SafeguardID uint64

// StepType classifies how a step was opened.
type StepType string

const (
	StepTypeCommand StepType = "command"
	StepTypeAmbient StepType = "ambient"
	StepTypeAPI     StepType = "api"
)

// TypeOf classifies a step ID without needing extra bookkeeping.
func (id StepID) TypeOf() StepType {
	switch {
	case id >= DirectAPIStepIDBase:
		return StepTypeAPI
	case id < 0:
		return StepTypeAmbient
	default:
		return StepTypeCommand
	}
}

// StepInfo is a read-only description of a step for introspection.
type StepInfo struct {
	ID            StepID    `json:"id"`
	StepType      StepType  `json:"step_type"`
	Timestamp     time.Time `json:"timestamp"`
	Command       string    `json:"command,omitempty"`
	AffectedPaths []string  `json:"affected_paths"`
}

// ExternalModificationPolicy names how to react when the working root
// changes without going through the interceptor. Engine does not read it
// and does no such detection; barriers come only from CreateBarrier.
type ExternalModificationPolicy string

const (
	// ExternalModBarrier creates an undo barrier that blocks rollback (default).
	ExternalModBarrier ExternalModificationPolicy = "barrier"
	// ExternalModWarn logs a warning but does not block rollback.
	ExternalModWarn ExternalModificationPolicy = "warn"
)

// SymlinkPolicy controls how the interceptor treats symlinks during
// preimage capture and rollback restore.
type SymlinkPolicy string

const (
	// SymlinkIgnore skips symlinks entirely during capture and restore (default).
	SymlinkIgnore SymlinkPolicy = "ignore"
	// SymlinkReadOnly captures symlink preimages but never restores them.
	SymlinkReadOnly SymlinkPolicy = "read_only"
	// SymlinkReadWrite captures and restores symlinks.
	SymlinkReadWrite SymlinkPolicy = "read_write"
)

// BarrierInfo marks a point in the undo history that rollback cannot cross
// without an explicit force.
type BarrierInfo struct {
	BarrierID     BarrierID `json:"barrier_id"`
	AfterStepID   StepID    `json:"after_step_id"`
	Timestamp     time.Time `json:"timestamp"`
	AffectedPaths []string  `json:"affected_paths"`
}

// RollbackResult summarizes the outcome of a successful rollback.
type RollbackResult struct {
	StepsRolledBack int
	BarriersCrossed []BarrierInfo
}

// SafeguardKind identifies which threshold a safeguard event represents.
type SafeguardKind int

const (
	SafeguardDeleteThreshold SafeguardKind = iota
	SafeguardOverwriteLargeFile
	SafeguardRenameOverExisting
)

func (k SafeguardKind) discriminant() string {
	switch k {
	case SafeguardDeleteThreshold:
		return "delete_threshold"
	case SafeguardOverwriteLargeFile:
		return "overwrite_large_file"
	case SafeguardRenameOverExisting:
		return "rename_over_existing"
	default:
		return "unknown"
	}
}

// ResourceLimitsConfig bounds the size of the undo log. A nil pointer means
// the corresponding dimension is unlimited.
type ResourceLimitsConfig struct {
	MaxLogSizeBytes         *uint64
	MaxStepCount            *int
	MaxSingleStepSizeBytes  *uint64
}

// SafeguardConfig configures the thresholds that trigger arbitration before
// a potentially destructive operation proceeds.
type SafeguardConfig struct {
	DeleteThreshold            *uint64
	OverwriteFileSizeThreshold *uint64
	RenameOverExisting         bool
	TimeoutSeconds             uint64
}

// DefaultSafeguardConfig mirrors the reference implementation's defaults:
// every threshold disabled, a 30s auto-deny timeout.
func DefaultSafeguardConfig() SafeguardConfig {
	return SafeguardConfig{TimeoutSeconds: 30}
}

// SafeguardEvent describes a triggered safeguard, handed to a SafeguardHandler
// for an allow/deny decision.
type SafeguardEvent struct {
	SafeguardID  SafeguardID
	StepID       StepID
	Kind         SafeguardKind
	DeleteCount  uint64
	Threshold    uint64
	Path         string
	FileSize     uint64
	Source       string
	Destination  string
	SamplePaths  []string
}

// SafeguardDecision is the caller's response to a SafeguardEvent.
type SafeguardDecision int

const (
	SafeguardAllow SafeguardDecision = iota
	SafeguardDeny
)

// SafeguardHandler is called synchronously when a safeguard threshold is
// crossed; it must block until a decision is available.
type SafeguardHandler interface {
	OnSafeguardTriggered(event SafeguardEvent) SafeguardDecision
}
