package review

import (
	"github.com/google/uuid"

	"github.com/stemline/stemline/internal/models"
)

// Notification event names consumed by the push layer. Delivery is
// best-effort; the engine's correctness never depends on it.
const (
	EventUpstreamCreated   = "upstream_created"
	EventUpstreamReviewed  = "upstream_reviewed"
	EventUpstreamFinalized = "upstream_finalized"
)

// UpstreamEvent is the payload for all three upstream lifecycle events.
type UpstreamEvent struct {
	UpstreamID uuid.UUID             `json:"upstreamId"`
	StageID    uuid.UUID             `json:"stageId"`
	Status     models.UpstreamStatus `json:"status"`
	Reviewers  int                   `json:"reviewers,omitempty"`
	ReviewedBy *uuid.UUID            `json:"reviewedBy,omitempty"`
	Decision   models.BallotDecision `json:"decision,omitempty"`
}
