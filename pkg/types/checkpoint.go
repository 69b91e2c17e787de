package types

import "time"

// BuildPhase names one stage of the indexing pipeline, in execution order.
type BuildPhase string

const (
	PhaseScan    BuildPhase = "scan"
	PhaseChunk   BuildPhase = "chunk"
	PhaseEmbed   BuildPhase = "embed"
	PhaseStore   BuildPhase = "store"
	PhaseResolve BuildPhase = "resolve"
)

// BuildPhases lists the pipeline phases in order.
var BuildPhases = []BuildPhase{PhaseScan, PhaseChunk, PhaseEmbed, PhaseStore, PhaseResolve}

// PhaseIndex returns the ordinal of a phase, or -1 for an unknown phase.
func PhaseIndex(p BuildPhase) int {
	for i, phase := range BuildPhases {
		if phase == p {
			return i
		}
	}
	return -1
}

// PhaseAfter reports whether a is strictly later in the pipeline than b.
func PhaseAfter(a, b BuildPhase) bool {
	return PhaseIndex(a) > PhaseIndex(b)
}

// BuildCheckpoint is the durable marker of pipeline progress. One checkpoint
// exists per project; it is written after every batch and cleared on
// successful completion.
type BuildCheckpoint struct {
	Phase             BuildPhase
	LastProcessedPath string // embedding-phase resumption point
	PendingChunkIDs   []string
	UpdatedAt         time.Time
}

// BuildStatus is the user-visible state of a build run.
type BuildStatus string

const (
	StatusRunning   BuildStatus = "running"
	StatusPaused    BuildStatus = "paused"
	StatusCancelled BuildStatus = "cancelled"
	StatusError     BuildStatus = "error"
	StatusCompleted BuildStatus = "completed"
)

// Progress is reported through the build progress callback and persisted as
// the index status on every tick.
type Progress struct {
	RunID           string
	Status          BuildStatus
	Phase           BuildPhase
	PhaseProgress   float64 // 0-100 within the current phase
	OverallProgress float64 // 0-100 across all phases
	Message         string
	FilesTotal      int
	FilesDone       int
	ChunksIndexed   int
	FailedFiles     []string
	UpdatedAt       time.Time
}
