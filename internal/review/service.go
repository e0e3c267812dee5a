package review

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/stemline/stemline/internal/models"
	"github.com/stemline/stemline/internal/store"
)

// ErrInvariantViolation signals that the promotion path was reached for an
// upstream whose ballot set does not support it. Unreachable as long as the
// service is the sole writer of upstream status.
var ErrInvariantViolation = errors.New("invariant violation")

// Emitter receives best-effort notifications about review lifecycle events.
// Delivery failures are logged and never affect the outcome of an operation.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any)
}

// Archiver stores the manifest of a completed promotion in object storage.
// Best-effort, like Emitter.
type Archiver interface {
	ArchiveManifest(ctx context.Context, m PromotionManifest) error
}

// Service is the multi-reviewer consensus and version promotion engine. All
// ballot-decision work runs inside a single store transaction so that two
// reviewers casting the final vote concurrently can never both promote.
type Service struct {
	store    store.Store
	emitter  Emitter
	archiver Archiver
}

func New(st store.Store, emitter Emitter, archiver Archiver) *Service {
	return &Service{
		store:    st,
		emitter:  emitter,
		archiver: archiver,
	}
}

// CreateReviewSet fans a newly opened upstream out to every reviewer
// currently assigned to the stage: one pending ballot per assignment.
// Reviewers assigned later do not gain a vote on this upstream. A stage with
// no assignments yields an empty ballot set, which is legal; such an
// upstream stays pending until reviewers exist on a future upstream.
func (s *Service) CreateReviewSet(ctx context.Context, stageID, upstreamID uuid.UUID) ([]models.ReviewBallot, error) {
	var ballots []models.ReviewBallot
	err := s.store.Tx(ctx, func(tx store.Store) error {
		up, err := tx.GetUpstream(ctx, upstreamID)
		if err != nil {
			return fmt.Errorf("upstream %s: %w", upstreamID, err)
		}
		if up.StageID != stageID {
			return fmt.Errorf("upstream %s does not target stage %s: %w", upstreamID, stageID, store.ErrNotFound)
		}
		assignments, err := tx.ListReviewerAssignments(ctx, stageID)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			ballot, err := tx.CreateBallot(ctx, store.BallotInput{
				UpstreamID:   upstreamID,
				AssignmentID: a.ID,
			})
			if err != nil {
				return fmt.Errorf("create ballot for assignment %s: %w", a.ID, err)
			}
			ballots = append(ballots, ballot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventUpstreamCreated, UpstreamEvent{
		UpstreamID: upstreamID,
		StageID:    stageID,
		Status:     models.UpstreamStatusPending,
		Reviewers:  len(ballots),
	})
	return ballots, nil
}

// SubmitStatus tags the outcome of a SubmitDecision call.
type SubmitStatus string

const (
	StatusOK             SubmitStatus = "ok"
	StatusNoStanding     SubmitStatus = "no_standing"
	StatusAlreadyDecided SubmitStatus = "already_decided"
)

type SubmitDecisionInput struct {
	StageID      uuid.UUID
	UpstreamID   uuid.UUID
	ActingUserID uuid.UUID
	Decision     models.BallotDecision
}

type SubmitDecisionResult struct {
	Status     SubmitStatus          `json:"status"`
	Message    string                `json:"message,omitempty"`
	UpstreamID uuid.UUID             `json:"upstreamId"`
	Aggregate  models.UpstreamStatus `json:"aggregate"`
	Promotion  *PromotionSummary     `json:"promotion,omitempty"`
}

type PromotionSummary struct {
	UpstreamID uuid.UUID `json:"upstreamId"`
	StageID    uuid.UUID `json:"stageId"`
	Version    int       `json:"version"`
	StemCount  int       `json:"stemCount"`
}

// PromotionManifest is the durable record handed to the Archiver after a
// successful promotion.
type PromotionManifest struct {
	UpstreamID  uuid.UUID            `json:"upstreamId"`
	StageID     uuid.UUID            `json:"stageId"`
	TrackID     uuid.UUID            `json:"trackId"`
	Version     int                  `json:"version"`
	FinalizedAt time.Time            `json:"finalizedAt"`
	Stems       []models.VersionStem `json:"stems"`
}

// SubmitDecision is the single authorization boundary and the only writer of
// upstream status. A user without an assignment on the stage, or whose
// assignment has no ballot on this upstream, gets a soft no-standing result
// and mutates nothing. The ballot write, aggregate recompute, status
// transition and promotion all happen in one transaction.
func (s *Service) SubmitDecision(ctx context.Context, in SubmitDecisionInput) (SubmitDecisionResult, error) {
	if in.Decision != models.BallotApproved && in.Decision != models.BallotRejected {
		return SubmitDecisionResult{}, fmt.Errorf("decision must be %q or %q", models.BallotApproved, models.BallotRejected)
	}

	result := SubmitDecisionResult{UpstreamID: in.UpstreamID}
	var manifest *PromotionManifest

	err := s.store.Tx(ctx, func(tx store.Store) error {
		assignment, err := tx.GetReviewerAssignment(ctx, in.StageID, in.ActingUserID)
		if errors.Is(err, store.ErrNotFound) {
			result.Status = StatusNoStanding
			result.Message = "you have no reviewer assignment on this stage"
			return nil
		}
		if err != nil {
			return err
		}

		ballot, err := tx.GetBallotByAssignment(ctx, in.UpstreamID, assignment.ID)
		if errors.Is(err, store.ErrNotFound) {
			result.Status = StatusNoStanding
			result.Message = "you have no ballot on this upstream"
			return nil
		}
		if err != nil {
			return err
		}

		up, err := tx.GetUpstreamForUpdate(ctx, in.UpstreamID)
		if err != nil {
			return fmt.Errorf("upstream %s: %w", in.UpstreamID, err)
		}
		result.Aggregate = up.Status
		if up.Status.Terminal() {
			result.Status = StatusAlreadyDecided
			result.Message = fmt.Sprintf("upstream already %s", up.Status)
			return nil
		}
		if ballot.Decision.Terminal() {
			result.Status = StatusAlreadyDecided
			result.Message = "ballot already cast"
			return nil
		}

		if err := tx.SetBallotDecision(ctx, ballot.ID, in.Decision); err != nil {
			return err
		}
		ballots, err := tx.ListBallotsByUpstream(ctx, in.UpstreamID)
		if err != nil {
			return err
		}

		aggregate := Aggregate(ballots)
		result.Status = StatusOK
		result.Aggregate = aggregate

		switch aggregate {
		case models.UpstreamStatusApproved:
			if err := tx.SetUpstreamStatus(ctx, in.UpstreamID, models.UpstreamStatusApproved); err != nil {
				return err
			}
			up.Status = models.UpstreamStatusApproved
			summary, m, err := s.promote(ctx, tx, up)
			if err != nil {
				return fmt.Errorf("finalize upstream %s: %w", in.UpstreamID, err)
			}
			result.Promotion = &summary
			manifest = &m
		case models.UpstreamStatusRejected:
			if err := tx.SetUpstreamStatus(ctx, in.UpstreamID, models.UpstreamStatusRejected); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SubmitDecisionResult{}, err
	}

	if result.Status == StatusOK {
		s.emit(ctx, EventUpstreamReviewed, UpstreamEvent{
			UpstreamID: in.UpstreamID,
			StageID:    in.StageID,
			Status:     result.Aggregate,
			ReviewedBy: &in.ActingUserID,
			Decision:   in.Decision,
		})
		if result.Aggregate.Terminal() {
			s.emit(ctx, EventUpstreamFinalized, UpstreamEvent{
				UpstreamID: in.UpstreamID,
				StageID:    in.StageID,
				Status:     result.Aggregate,
			})
		}
	}
	if manifest != nil && s.archiver != nil {
		if err := s.archiver.ArchiveManifest(ctx, *manifest); err != nil {
			log.Printf("archive promotion manifest for upstream %s: %v", in.UpstreamID, err)
		}
	}
	return result, nil
}

// Aggregate computes the group verdict over an upstream's ballots. Approval
// requires every ballot cast as approved; rejection is decisive only once no
// ballot is pending and at least one rejected. An empty ballot set never
// approves, it stays pending.
func Aggregate(ballots []models.ReviewBallot) models.UpstreamStatus {
	if len(ballots) == 0 {
		return models.UpstreamStatusPending
	}
	allApproved := true
	hasPending := false
	hasRejected := false
	for _, b := range ballots {
		switch b.Decision {
		case models.BallotApproved:
		case models.BallotRejected:
			allApproved = false
			hasRejected = true
		default:
			allApproved = false
			hasPending = true
		}
	}
	switch {
	case allApproved:
		return models.UpstreamStatusApproved
	case !hasPending && hasRejected:
		return models.UpstreamStatusRejected
	default:
		return models.UpstreamStatusPending
	}
}

// promote copies the track's current stems into immutable version history and
// marks the stage approved. Runs inside the caller's transaction; any error
// rolls back the whole decision, including the upstream status write.
func (s *Service) promote(ctx context.Context, tx store.Store, up models.Upstream) (PromotionSummary, PromotionManifest, error) {
	if up.Status != models.UpstreamStatusApproved {
		return PromotionSummary{}, PromotionManifest{}, fmt.Errorf("upstream %s is %s: %w", up.ID, up.Status, ErrInvariantViolation)
	}
	stage, err := tx.GetStage(ctx, up.StageID)
	if err != nil {
		return PromotionSummary{}, PromotionManifest{}, fmt.Errorf("stage for upstream %s: %w", up.ID, err)
	}
	track, err := tx.GetTrack(ctx, stage.TrackID)
	if err != nil {
		return PromotionSummary{}, PromotionManifest{}, fmt.Errorf("track for stage %s: %w", stage.ID, err)
	}

	var guide *string
	if up.GuidePath != "" {
		guide = &up.GuidePath
	}
	if err := tx.ApproveStage(ctx, stage.ID, guide); err != nil {
		return PromotionSummary{}, PromotionManifest{}, fmt.Errorf("approve stage %s: %w", stage.ID, err)
	}

	stems, err := tx.ListStemsByTrack(ctx, track.ID)
	if err != nil {
		return PromotionSummary{}, PromotionManifest{}, err
	}
	if len(stems) == 0 {
		return PromotionSummary{}, PromotionManifest{}, fmt.Errorf("no stems to snapshot for track %s: %w", track.ID, store.ErrNotFound)
	}

	snapshots := make([]models.VersionStem, 0, len(stems))
	for _, stem := range stems {
		vs, err := tx.CreateVersionStem(ctx, store.VersionStemInput{
			StageID:      stage.ID,
			TrackID:      track.ID,
			UserID:       track.OwnerID,
			CategoryID:   stem.CategoryID,
			Version:      stage.Version,
			Name:         stem.Name,
			FilePath:     stem.FilePath,
			FileHash:     stem.FileHash,
			Key:          stem.Key,
			BPM:          stem.BPM,
			WaveformPath: stem.WaveformPath,
		})
		if err != nil {
			return PromotionSummary{}, PromotionManifest{}, fmt.Errorf("snapshot stem %s: %w", stem.ID, err)
		}
		snapshots = append(snapshots, vs)
	}

	summary := PromotionSummary{
		UpstreamID: up.ID,
		StageID:    stage.ID,
		Version:    stage.Version,
		StemCount:  len(snapshots),
	}
	manifest := PromotionManifest{
		UpstreamID:  up.ID,
		StageID:     stage.ID,
		TrackID:     track.ID,
		Version:     stage.Version,
		FinalizedAt: time.Now().UTC(),
		Stems:       snapshots,
	}
	return summary, manifest, nil
}

// UpstreamReviews pairs an upstream with its full ballot set.
type UpstreamReviews struct {
	Upstream models.Upstream       `json:"upstream"`
	Ballots  []models.ReviewBallot `json:"ballots"`
}

// GetUpstreamReviews returns the upstream and all of its ballots. An unknown
// upstream and an upstream with no ballots both come back as ErrNotFound;
// callers that need to tell them apart must check existence separately.
func (s *Service) GetUpstreamReviews(ctx context.Context, upstreamID uuid.UUID) (UpstreamReviews, error) {
	up, err := s.store.GetUpstream(ctx, upstreamID)
	if err != nil {
		return UpstreamReviews{}, fmt.Errorf("upstream %s: %w", upstreamID, err)
	}
	ballots, err := s.store.ListBallotsByUpstream(ctx, upstreamID)
	if err != nil {
		return UpstreamReviews{}, err
	}
	if len(ballots) == 0 {
		return UpstreamReviews{}, fmt.Errorf("no reviews for upstream %s: %w", upstreamID, store.ErrNotFound)
	}
	return UpstreamReviews{Upstream: up, Ballots: ballots}, nil
}

// ListStageReviews returns every upstream of the stage with its ballots,
// most recent upstream first. Empty result sets are ErrNotFound.
func (s *Service) ListStageReviews(ctx context.Context, stageID uuid.UUID) ([]UpstreamReviews, error) {
	upstreams, err := s.store.ListUpstreamsByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if len(upstreams) == 0 {
		return nil, fmt.Errorf("no reviews for stage %s: %w", stageID, store.ErrNotFound)
	}
	out := make([]UpstreamReviews, 0, len(upstreams))
	for _, up := range upstreams {
		ballots, err := s.store.ListBallotsByUpstream(ctx, up.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, UpstreamReviews{Upstream: up, Ballots: ballots})
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, event string, payload any) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, event, payload)
}
