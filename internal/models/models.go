package models

import (
	"time"

	"github.com/google/uuid"
)

// StageStatus is the lifecycle state of a Stage.
type StageStatus string

const (
	StageStatusActive  StageStatus = "active"
	StageStatusApprove StageStatus = "approve"
	StageStatusClosed  StageStatus = "closed"
)

// UpstreamStatus is the derived aggregate verdict over an upstream's ballots.
type UpstreamStatus string

const (
	UpstreamStatusPending  UpstreamStatus = "pending"
	UpstreamStatusApproved UpstreamStatus = "approved"
	UpstreamStatusRejected UpstreamStatus = "rejected"
)

// Terminal reports whether the status can never change again.
func (s UpstreamStatus) Terminal() bool {
	return s == UpstreamStatusApproved || s == UpstreamStatusRejected
}

// BallotDecision is a single reviewer's vote state.
type BallotDecision string

const (
	BallotPending  BallotDecision = "pending"
	BallotApproved BallotDecision = "approved"
	BallotRejected BallotDecision = "rejected"
)

// Terminal reports whether the ballot has been cast.
func (d BallotDecision) Terminal() bool {
	return d == BallotApproved || d == BallotRejected
}

type Track struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stage is a versioned working session on a track. Its status is mutated to
// "approve" only by the promotion path; everything else belongs to the catalog.
type Stage struct {
	ID        uuid.UUID   `json:"id"`
	TrackID   uuid.UUID   `json:"trackId"`
	Version   int         `json:"version"`
	Status    StageStatus `json:"status"`
	GuidePath *string     `json:"guidePath,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ReviewerAssignment associates a user with a stage as an authorized reviewer.
// Read-only input to the review engine.
type ReviewerAssignment struct {
	ID        uuid.UUID `json:"id"`
	StageID   uuid.UUID `json:"stageId"`
	UserID    uuid.UUID `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Upstream is a proposed stem-set change targeting one stage. Status is
// derived from its ballots and transitions at most once out of pending.
type Upstream struct {
	ID        uuid.UUID      `json:"id"`
	StageID   uuid.UUID      `json:"stageId"`
	Status    UpstreamStatus `json:"status"`
	GuidePath string         `json:"guidePath,omitempty"`
	CreatedBy uuid.UUID      `json:"createdBy"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ReviewBallot is one reviewer's vote on one upstream. Exactly one exists per
// (upstream, assignment) pair; the decision is written at most once.
type ReviewBallot struct {
	ID           uuid.UUID      `json:"id"`
	UpstreamID   uuid.UUID      `json:"upstreamId"`
	AssignmentID uuid.UUID      `json:"assignmentId"`
	Decision     BallotDecision `json:"decision"`
	CreatedAt    time.Time      `json:"createdAt"`
	DecidedAt    *time.Time     `json:"decidedAt,omitempty"`
}

// Stem is an audio component currently attached to a track (mutable working
// state, owned by the catalog; the engine only reads it at promotion time).
type Stem struct {
	ID           uuid.UUID `json:"id"`
	TrackID      uuid.UUID `json:"trackId"`
	StageID      uuid.UUID `json:"stageId"`
	UserID       uuid.UUID `json:"userId"`
	CategoryID   uuid.UUID `json:"categoryId"`
	Name         string    `json:"name"`
	FilePath     string    `json:"filePath"`
	FileHash     string    `json:"fileHash"`
	Key          string    `json:"key,omitempty"`
	BPM          int       `json:"bpm,omitempty"`
	WaveformPath string    `json:"waveformPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// VersionStem is an immutable snapshot of a stem taken at promotion time.
// Rows are append-only; they form the stage's durable version history.
type VersionStem struct {
	ID           uuid.UUID `json:"id"`
	StageID      uuid.UUID `json:"stageId"`
	TrackID      uuid.UUID `json:"trackId"`
	UserID       uuid.UUID `json:"userId"`
	CategoryID   uuid.UUID `json:"categoryId"`
	Version      int       `json:"version"`
	Name         string    `json:"name"`
	FilePath     string    `json:"filePath"`
	FileHash     string    `json:"fileHash"`
	Key          string    `json:"key,omitempty"`
	BPM          int       `json:"bpm,omitempty"`
	WaveformPath string    `json:"waveformPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
