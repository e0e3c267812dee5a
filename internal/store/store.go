package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stemline/stemline/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the durable entity store for the review engine. Tx runs fn against
// a transactional view of the store; if fn returns an error every write made
// inside it is rolled back. The ballot-decision path relies on this plus
// GetUpstreamForUpdate to guarantee at-most-once promotion under concurrent
// final votes.
type Store interface {
	Tx(ctx context.Context, fn func(Store) error) error

	CreateTrack(ctx context.Context, in TrackInput) (models.Track, error)
	GetTrack(ctx context.Context, id uuid.UUID) (models.Track, error)

	CreateStage(ctx context.Context, in StageInput) (models.Stage, error)
	GetStage(ctx context.Context, id uuid.UUID) (models.Stage, error)
	ApproveStage(ctx context.Context, stageID uuid.UUID, guidePath *string) error

	CreateReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error)
	ListReviewerAssignments(ctx context.Context, stageID uuid.UUID) ([]models.ReviewerAssignment, error)
	GetReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error)

	CreateUpstream(ctx context.Context, in UpstreamInput) (models.Upstream, error)
	GetUpstream(ctx context.Context, id uuid.UUID) (models.Upstream, error)
	GetUpstreamForUpdate(ctx context.Context, id uuid.UUID) (models.Upstream, error)
	SetUpstreamStatus(ctx context.Context, id uuid.UUID, status models.UpstreamStatus) error
	ListUpstreamsByStage(ctx context.Context, stageID uuid.UUID) ([]models.Upstream, error)

	CreateBallot(ctx context.Context, in BallotInput) (models.ReviewBallot, error)
	GetBallotByAssignment(ctx context.Context, upstreamID, assignmentID uuid.UUID) (models.ReviewBallot, error)
	SetBallotDecision(ctx context.Context, ballotID uuid.UUID, decision models.BallotDecision) error
	ListBallotsByUpstream(ctx context.Context, upstreamID uuid.UUID) ([]models.ReviewBallot, error)

	CreateStem(ctx context.Context, in StemInput) (models.Stem, error)
	ListStemsByTrack(ctx context.Context, trackID uuid.UUID) ([]models.Stem, error)

	CreateVersionStem(ctx context.Context, in VersionStemInput) (models.VersionStem, error)
	ListVersionStems(ctx context.Context, stageID uuid.UUID) ([]models.VersionStem, error)

	Ping(ctx context.Context) error
}

type TrackInput struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Title   string
}

type StageInput struct {
	ID      uuid.UUID
	TrackID uuid.UUID
	Version int
	Status  models.StageStatus
}

type UpstreamInput struct {
	ID        uuid.UUID
	StageID   uuid.UUID
	GuidePath string
	CreatedBy uuid.UUID
}

type BallotInput struct {
	ID           uuid.UUID
	UpstreamID   uuid.UUID
	AssignmentID uuid.UUID
}

type StemInput struct {
	ID           uuid.UUID
	TrackID      uuid.UUID
	StageID      uuid.UUID
	UserID       uuid.UUID
	CategoryID   uuid.UUID
	Name         string
	FilePath     string
	FileHash     string
	Key          string
	BPM          int
	WaveformPath string
}

type VersionStemInput struct {
	ID           uuid.UUID
	StageID      uuid.UUID
	TrackID      uuid.UUID
	UserID       uuid.UUID
	CategoryID   uuid.UUID
	Version      int
	Name         string
	FilePath     string
	FileHash     string
	Key          string
	BPM          int
	WaveformPath string
}

// querier is satisfied by both *sql.DB and *sql.Tx so PGStore methods work
// identically inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PGStore struct {
	db *sql.DB // nil when this store is a transactional view
	q  querier
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

// Tx runs fn inside a serializable transaction. Nested calls reuse the
// enclosing transaction.
func (s *PGStore) Tx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PGStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback (%v) after: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PGStore) CreateTrack(ctx context.Context, in TrackInput) (models.Track, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	const query = `
		INSERT INTO tracks (id, owner_id, title)
		VALUES ($1,$2,$3)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := s.q.QueryRowContext(ctx, query, in.ID, in.OwnerID, in.Title).Scan(&createdAt); err != nil {
		return models.Track{}, fmt.Errorf("insert track: %w", err)
	}
	return models.Track{ID: in.ID, OwnerID: in.OwnerID, Title: in.Title, CreatedAt: createdAt}, nil
}

func (s *PGStore) GetTrack(ctx context.Context, id uuid.UUID) (models.Track, error) {
	const query = `SELECT owner_id, title, created_at FROM tracks WHERE id=$1`
	var track models.Track
	if err := s.q.QueryRowContext(ctx, query, id).Scan(&track.OwnerID, &track.Title, &track.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Track{}, ErrNotFound
		}
		return models.Track{}, fmt.Errorf("get track: %w", err)
	}
	track.ID = id
	return track, nil
}

func (s *PGStore) CreateStage(ctx context.Context, in StageInput) (models.Stage, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.Status == "" {
		in.Status = models.StageStatusActive
	}
	const query = `
		INSERT INTO stages (id, track_id, version, status)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := s.q.QueryRowContext(ctx, query, in.ID, in.TrackID, in.Version, in.Status).Scan(&createdAt); err != nil {
		return models.Stage{}, fmt.Errorf("insert stage: %w", err)
	}
	return models.Stage{
		ID:        in.ID,
		TrackID:   in.TrackID,
		Version:   in.Version,
		Status:    in.Status,
		CreatedAt: createdAt,
	}, nil
}

func (s *PGStore) GetStage(ctx context.Context, id uuid.UUID) (models.Stage, error) {
	const query = `SELECT track_id, version, status, guide_path, created_at FROM stages WHERE id=$1`
	var (
		stage models.Stage
		guide sql.NullString
	)
	err := s.q.QueryRowContext(ctx, query, id).Scan(&stage.TrackID, &stage.Version, &stage.Status, &guide, &stage.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Stage{}, ErrNotFound
		}
		return models.Stage{}, fmt.Errorf("get stage: %w", err)
	}
	stage.ID = id
	if guide.Valid {
		stage.GuidePath = &guide.String
	}
	return stage, nil
}

func (s *PGStore) ApproveStage(ctx context.Context, stageID uuid.UUID, guidePath *string) error {
	const query = `UPDATE stages SET status=$2, guide_path=COALESCE($3, guide_path) WHERE id=$1`
	res, err := s.q.ExecContext(ctx, query, stageID, models.StageStatusApprove, guidePath)
	if err != nil {
		return fmt.Errorf("approve stage: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CreateReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	id := uuid.New()
	const query = `
		INSERT INTO reviewer_assignments (id, stage_id, user_id)
		VALUES ($1,$2,$3)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := s.q.QueryRowContext(ctx, query, id, stageID, userID).Scan(&createdAt); err != nil {
		return models.ReviewerAssignment{}, fmt.Errorf("insert reviewer assignment: %w", err)
	}
	return models.ReviewerAssignment{ID: id, StageID: stageID, UserID: userID, CreatedAt: createdAt}, nil
}

func (s *PGStore) ListReviewerAssignments(ctx context.Context, stageID uuid.UUID) ([]models.ReviewerAssignment, error) {
	const query = `
		SELECT id, user_id, created_at
		FROM reviewer_assignments
		WHERE stage_id=$1
		ORDER BY created_at
	`
	rows, err := s.q.QueryContext(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("list reviewer assignments: %w", err)
	}
	defer rows.Close()
	var out []models.ReviewerAssignment
	for rows.Next() {
		a := models.ReviewerAssignment{StageID: stageID}
		if err := rows.Scan(&a.ID, &a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reviewer assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) GetReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	const query = `SELECT id, created_at FROM reviewer_assignments WHERE stage_id=$1 AND user_id=$2`
	a := models.ReviewerAssignment{StageID: stageID, UserID: userID}
	if err := s.q.QueryRowContext(ctx, query, stageID, userID).Scan(&a.ID, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ReviewerAssignment{}, ErrNotFound
		}
		return models.ReviewerAssignment{}, fmt.Errorf("get reviewer assignment: %w", err)
	}
	return a, nil
}

func (s *PGStore) CreateUpstream(ctx context.Context, in UpstreamInput) (models.Upstream, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	const query = `
		INSERT INTO upstreams (id, stage_id, status, guide_path, created_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := s.q.QueryRowContext(ctx, query, in.ID, in.StageID, models.UpstreamStatusPending, in.GuidePath, in.CreatedBy).Scan(&createdAt); err != nil {
		return models.Upstream{}, fmt.Errorf("insert upstream: %w", err)
	}
	return models.Upstream{
		ID:        in.ID,
		StageID:   in.StageID,
		Status:    models.UpstreamStatusPending,
		GuidePath: in.GuidePath,
		CreatedBy: in.CreatedBy,
		CreatedAt: createdAt,
	}, nil
}

func (s *PGStore) GetUpstream(ctx context.Context, id uuid.UUID) (models.Upstream, error) {
	const query = `SELECT stage_id, status, guide_path, created_by, created_at FROM upstreams WHERE id=$1`
	return s.scanUpstream(s.q.QueryRowContext(ctx, query, id), id)
}

// GetUpstreamForUpdate takes a row lock on the upstream so concurrent final
// votes serialize on it for the remainder of the enclosing transaction.
func (s *PGStore) GetUpstreamForUpdate(ctx context.Context, id uuid.UUID) (models.Upstream, error) {
	const query = `SELECT stage_id, status, guide_path, created_by, created_at FROM upstreams WHERE id=$1 FOR UPDATE`
	return s.scanUpstream(s.q.QueryRowContext(ctx, query, id), id)
}

func (s *PGStore) scanUpstream(row *sql.Row, id uuid.UUID) (models.Upstream, error) {
	var (
		up    models.Upstream
		guide sql.NullString
	)
	if err := row.Scan(&up.StageID, &up.Status, &guide, &up.CreatedBy, &up.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Upstream{}, ErrNotFound
		}
		return models.Upstream{}, fmt.Errorf("get upstream: %w", err)
	}
	up.ID = id
	up.GuidePath = guide.String
	return up, nil
}

func (s *PGStore) SetUpstreamStatus(ctx context.Context, id uuid.UUID, status models.UpstreamStatus) error {
	const query = `UPDATE upstreams SET status=$2 WHERE id=$1`
	res, err := s.q.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("set upstream status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListUpstreamsByStage(ctx context.Context, stageID uuid.UUID) ([]models.Upstream, error) {
	const query = `
		SELECT id, status, guide_path, created_by, created_at
		FROM upstreams
		WHERE stage_id=$1
		ORDER BY created_at DESC
	`
	rows, err := s.q.QueryContext(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("list upstreams: %w", err)
	}
	defer rows.Close()
	var out []models.Upstream
	for rows.Next() {
		up := models.Upstream{StageID: stageID}
		var guide sql.NullString
		if err := rows.Scan(&up.ID, &up.Status, &guide, &up.CreatedBy, &up.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upstream: %w", err)
		}
		up.GuidePath = guide.String
		out = append(out, up)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateBallot(ctx context.Context, in BallotInput) (models.ReviewBallot, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	const query = `
		INSERT INTO review_ballots (id, upstream_id, assignment_id, decision)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := s.q.QueryRowContext(ctx, query, in.ID, in.UpstreamID, in.AssignmentID, models.BallotPending).Scan(&createdAt); err != nil {
		return models.ReviewBallot{}, fmt.Errorf("insert ballot: %w", err)
	}
	return models.ReviewBallot{
		ID:           in.ID,
		UpstreamID:   in.UpstreamID,
		AssignmentID: in.AssignmentID,
		Decision:     models.BallotPending,
		CreatedAt:    createdAt,
	}, nil
}

func (s *PGStore) GetBallotByAssignment(ctx context.Context, upstreamID, assignmentID uuid.UUID) (models.ReviewBallot, error) {
	const query = `
		SELECT id, decision, created_at, decided_at
		FROM review_ballots
		WHERE upstream_id=$1 AND assignment_id=$2
	`
	b := models.ReviewBallot{UpstreamID: upstreamID, AssignmentID: assignmentID}
	var decidedAt sql.NullTime
	err := s.q.QueryRowContext(ctx, query, upstreamID, assignmentID).Scan(&b.ID, &b.Decision, &b.CreatedAt, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ReviewBallot{}, ErrNotFound
		}
		return models.ReviewBallot{}, fmt.Errorf("get ballot: %w", err)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		b.DecidedAt = &t
	}
	return b, nil
}

func (s *PGStore) SetBallotDecision(ctx context.Context, ballotID uuid.UUID, decision models.BallotDecision) error {
	const query = `UPDATE review_ballots SET decision=$2, decided_at=NOW() WHERE id=$1`
	res, err := s.q.ExecContext(ctx, query, ballotID, decision)
	if err != nil {
		return fmt.Errorf("set ballot decision: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListBallotsByUpstream(ctx context.Context, upstreamID uuid.UUID) ([]models.ReviewBallot, error) {
	const query = `
		SELECT id, assignment_id, decision, created_at, decided_at
		FROM review_ballots
		WHERE upstream_id=$1
		ORDER BY created_at
	`
	rows, err := s.q.QueryContext(ctx, query, upstreamID)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	defer rows.Close()
	var out []models.ReviewBallot
	for rows.Next() {
		b := models.ReviewBallot{UpstreamID: upstreamID}
		var decidedAt sql.NullTime
		if err := rows.Scan(&b.ID, &b.AssignmentID, &b.Decision, &b.CreatedAt, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan ballot: %w", err)
		}
		if decidedAt.Valid {
			t := decidedAt.Time
			b.DecidedAt = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateStem(ctx context.Context, in StemInput) (models.Stem, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	const query = `
		INSERT INTO stems (id, track_id, stage_id, user_id, category_id, name, file_path, file_hash, key, bpm, waveform_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`
	var createdAt time.Time
	err := s.q.QueryRowContext(ctx, query,
		in.ID, in.TrackID, in.StageID, in.UserID, in.CategoryID,
		in.Name, in.FilePath, in.FileHash, in.Key, in.BPM, in.WaveformPath,
	).Scan(&createdAt)
	if err != nil {
		return models.Stem{}, fmt.Errorf("insert stem: %w", err)
	}
	return models.Stem{
		ID:           in.ID,
		TrackID:      in.TrackID,
		StageID:      in.StageID,
		UserID:       in.UserID,
		CategoryID:   in.CategoryID,
		Name:         in.Name,
		FilePath:     in.FilePath,
		FileHash:     in.FileHash,
		Key:          in.Key,
		BPM:          in.BPM,
		WaveformPath: in.WaveformPath,
		CreatedAt:    createdAt,
	}, nil
}

func (s *PGStore) ListStemsByTrack(ctx context.Context, trackID uuid.UUID) ([]models.Stem, error) {
	const query = `
		SELECT id, stage_id, user_id, category_id, name, file_path, file_hash, key, bpm, waveform_path, created_at
		FROM stems
		WHERE track_id=$1
		ORDER BY created_at
	`
	rows, err := s.q.QueryContext(ctx, query, trackID)
	if err != nil {
		return nil, fmt.Errorf("list stems: %w", err)
	}
	defer rows.Close()
	var out []models.Stem
	for rows.Next() {
		st := models.Stem{TrackID: trackID}
		if err := rows.Scan(&st.ID, &st.StageID, &st.UserID, &st.CategoryID, &st.Name, &st.FilePath, &st.FileHash, &st.Key, &st.BPM, &st.WaveformPath, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stem: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateVersionStem(ctx context.Context, in VersionStemInput) (models.VersionStem, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	const query = `
		INSERT INTO version_stems (id, stage_id, track_id, user_id, category_id, version, name, file_path, file_hash, key, bpm, waveform_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at
	`
	var createdAt time.Time
	err := s.q.QueryRowContext(ctx, query,
		in.ID, in.StageID, in.TrackID, in.UserID, in.CategoryID, in.Version,
		in.Name, in.FilePath, in.FileHash, in.Key, in.BPM, in.WaveformPath,
	).Scan(&createdAt)
	if err != nil {
		return models.VersionStem{}, fmt.Errorf("insert version stem: %w", err)
	}
	return models.VersionStem{
		ID:           in.ID,
		StageID:      in.StageID,
		TrackID:      in.TrackID,
		UserID:       in.UserID,
		CategoryID:   in.CategoryID,
		Version:      in.Version,
		Name:         in.Name,
		FilePath:     in.FilePath,
		FileHash:     in.FileHash,
		Key:          in.Key,
		BPM:          in.BPM,
		WaveformPath: in.WaveformPath,
		CreatedAt:    createdAt,
	}, nil
}

func (s *PGStore) ListVersionStems(ctx context.Context, stageID uuid.UUID) ([]models.VersionStem, error) {
	const query = `
		SELECT id, track_id, user_id, category_id, version, name, file_path, file_hash, key, bpm, waveform_path, created_at
		FROM version_stems
		WHERE stage_id=$1
		ORDER BY created_at
	`
	rows, err := s.q.QueryContext(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("list version stems: %w", err)
	}
	defer rows.Close()
	var out []models.VersionStem
	for rows.Next() {
		vs := models.VersionStem{StageID: stageID}
		if err := rows.Scan(&vs.ID, &vs.TrackID, &vs.UserID, &vs.CategoryID, &vs.Version, &vs.Name, &vs.FilePath, &vs.FileHash, &vs.Key, &vs.BPM, &vs.WaveformPath, &vs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version stem: %w", err)
		}
		out = append(out, vs)
	}
	return out, rows.Err()
}

func (s *PGStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
