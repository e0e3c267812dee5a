package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemline/stemline/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests. Tx
// bodies run one at a time under the store mutex and operate on a snapshot
// that is discarded if the body returns an error, so rollback semantics
// match the Postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	tracks       []models.Track
	stages       []models.Stage
	assignments  []models.ReviewerAssignment
	upstreams    []models.Upstream
	ballots      []models.ReviewBallot
	stems        []models.Stem
	versionStems []models.VersionStem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{}}
}

func (d *memData) clone() *memData {
	return &memData{
		tracks:       append([]models.Track(nil), d.tracks...),
		stages:       append([]models.Stage(nil), d.stages...),
		assignments:  append([]models.ReviewerAssignment(nil), d.assignments...),
		upstreams:    append([]models.Upstream(nil), d.upstreams...),
		ballots:      append([]models.ReviewBallot(nil), d.ballots...),
		stems:        append([]models.Stem(nil), d.stems...),
		versionStems: append([]models.VersionStem(nil), d.versionStems...),
	}
}

// Tx serializes the body under the store mutex and restores the pre-tx state
// when the body fails.
func (m *MemoryStore) Tx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.data.clone()
	if err := fn(&memTx{data: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) CreateTrack(ctx context.Context, in TrackInput) (models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createTrack(in)
}

func (m *MemoryStore) GetTrack(ctx context.Context, id uuid.UUID) (models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getTrack(id)
}

func (m *MemoryStore) CreateStage(ctx context.Context, in StageInput) (models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createStage(in)
}

func (m *MemoryStore) GetStage(ctx context.Context, id uuid.UUID) (models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getStage(id)
}

func (m *MemoryStore) ApproveStage(ctx context.Context, stageID uuid.UUID, guidePath *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.approveStage(stageID, guidePath)
}

func (m *MemoryStore) CreateReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createReviewerAssignment(stageID, userID)
}

func (m *MemoryStore) ListReviewerAssignments(ctx context.Context, stageID uuid.UUID) ([]models.ReviewerAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listReviewerAssignments(stageID)
}

func (m *MemoryStore) GetReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getReviewerAssignment(stageID, userID)
}

func (m *MemoryStore) CreateUpstream(ctx context.Context, in UpstreamInput) (models.Upstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createUpstream(in)
}

func (m *MemoryStore) GetUpstream(ctx context.Context, id uuid.UUID) (models.Upstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getUpstream(id)
}

func (m *MemoryStore) GetUpstreamForUpdate(ctx context.Context, id uuid.UUID) (models.Upstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getUpstream(id)
}

func (m *MemoryStore) SetUpstreamStatus(ctx context.Context, id uuid.UUID, status models.UpstreamStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.setUpstreamStatus(id, status)
}

func (m *MemoryStore) ListUpstreamsByStage(ctx context.Context, stageID uuid.UUID) ([]models.Upstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listUpstreamsByStage(stageID)
}

func (m *MemoryStore) CreateBallot(ctx context.Context, in BallotInput) (models.ReviewBallot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createBallot(in)
}

func (m *MemoryStore) GetBallotByAssignment(ctx context.Context, upstreamID, assignmentID uuid.UUID) (models.ReviewBallot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getBallotByAssignment(upstreamID, assignmentID)
}

func (m *MemoryStore) SetBallotDecision(ctx context.Context, ballotID uuid.UUID, decision models.BallotDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.setBallotDecision(ballotID, decision)
}

func (m *MemoryStore) ListBallotsByUpstream(ctx context.Context, upstreamID uuid.UUID) ([]models.ReviewBallot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listBallotsByUpstream(upstreamID)
}

func (m *MemoryStore) CreateStem(ctx context.Context, in StemInput) (models.Stem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createStem(in)
}

func (m *MemoryStore) ListStemsByTrack(ctx context.Context, trackID uuid.UUID) ([]models.Stem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listStemsByTrack(trackID)
}

func (m *MemoryStore) CreateVersionStem(ctx context.Context, in VersionStemInput) (models.VersionStem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createVersionStem(in)
}

func (m *MemoryStore) ListVersionStems(ctx context.Context, stageID uuid.UUID) ([]models.VersionStem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listVersionStems(stageID)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// memTx is the transactional view handed to Tx bodies. The enclosing Tx call
// already holds the store mutex, so methods operate on the data directly.
type memTx struct {
	data *memData
}

func (t *memTx) Tx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *memTx) CreateTrack(ctx context.Context, in TrackInput) (models.Track, error) {
	return t.data.createTrack(in)
}

func (t *memTx) GetTrack(ctx context.Context, id uuid.UUID) (models.Track, error) {
	return t.data.getTrack(id)
}

func (t *memTx) CreateStage(ctx context.Context, in StageInput) (models.Stage, error) {
	return t.data.createStage(in)
}

func (t *memTx) GetStage(ctx context.Context, id uuid.UUID) (models.Stage, error) {
	return t.data.getStage(id)
}

func (t *memTx) ApproveStage(ctx context.Context, stageID uuid.UUID, guidePath *string) error {
	return t.data.approveStage(stageID, guidePath)
}

func (t *memTx) CreateReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	return t.data.createReviewerAssignment(stageID, userID)
}

func (t *memTx) ListReviewerAssignments(ctx context.Context, stageID uuid.UUID) ([]models.ReviewerAssignment, error) {
	return t.data.listReviewerAssignments(stageID)
}

func (t *memTx) GetReviewerAssignment(ctx context.Context, stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	return t.data.getReviewerAssignment(stageID, userID)
}

func (t *memTx) CreateUpstream(ctx context.Context, in UpstreamInput) (models.Upstream, error) {
	return t.data.createUpstream(in)
}

func (t *memTx) GetUpstream(ctx context.Context, id uuid.UUID) (models.Upstream, error) {
	return t.data.getUpstream(id)
}

func (t *memTx) GetUpstreamForUpdate(ctx context.Context, id uuid.UUID) (models.Upstream, error) {
	return t.data.getUpstream(id)
}

func (t *memTx) SetUpstreamStatus(ctx context.Context, id uuid.UUID, status models.UpstreamStatus) error {
	return t.data.setUpstreamStatus(id, status)
}

func (t *memTx) ListUpstreamsByStage(ctx context.Context, stageID uuid.UUID) ([]models.Upstream, error) {
	return t.data.listUpstreamsByStage(stageID)
}

func (t *memTx) CreateBallot(ctx context.Context, in BallotInput) (models.ReviewBallot, error) {
	return t.data.createBallot(in)
}

func (t *memTx) GetBallotByAssignment(ctx context.Context, upstreamID, assignmentID uuid.UUID) (models.ReviewBallot, error) {
	return t.data.getBallotByAssignment(upstreamID, assignmentID)
}

func (t *memTx) SetBallotDecision(ctx context.Context, ballotID uuid.UUID, decision models.BallotDecision) error {
	return t.data.setBallotDecision(ballotID, decision)
}

func (t *memTx) ListBallotsByUpstream(ctx context.Context, upstreamID uuid.UUID) ([]models.ReviewBallot, error) {
	return t.data.listBallotsByUpstream(upstreamID)
}

func (t *memTx) CreateStem(ctx context.Context, in StemInput) (models.Stem, error) {
	return t.data.createStem(in)
}

func (t *memTx) ListStemsByTrack(ctx context.Context, trackID uuid.UUID) ([]models.Stem, error) {
	return t.data.listStemsByTrack(trackID)
}

func (t *memTx) CreateVersionStem(ctx context.Context, in VersionStemInput) (models.VersionStem, error) {
	return t.data.createVersionStem(in)
}

func (t *memTx) ListVersionStems(ctx context.Context, stageID uuid.UUID) ([]models.VersionStem, error) {
	return t.data.listVersionStems(stageID)
}

func (t *memTx) Ping(ctx context.Context) error {
	return nil
}

func (d *memData) createTrack(in TrackInput) (models.Track, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	track := models.Track{ID: in.ID, OwnerID: in.OwnerID, Title: in.Title, CreatedAt: time.Now().UTC()}
	d.tracks = append(d.tracks, track)
	return track, nil
}

func (d *memData) getTrack(id uuid.UUID) (models.Track, error) {
	for _, t := range d.tracks {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Track{}, ErrNotFound
}

func (d *memData) createStage(in StageInput) (models.Stage, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.Status == "" {
		in.Status = models.StageStatusActive
	}
	stage := models.Stage{
		ID:        in.ID,
		TrackID:   in.TrackID,
		Version:   in.Version,
		Status:    in.Status,
		CreatedAt: time.Now().UTC(),
	}
	d.stages = append(d.stages, stage)
	return stage, nil
}

func (d *memData) getStage(id uuid.UUID) (models.Stage, error) {
	for _, s := range d.stages {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Stage{}, ErrNotFound
}

func (d *memData) approveStage(stageID uuid.UUID, guidePath *string) error {
	for i := range d.stages {
		if d.stages[i].ID == stageID {
			d.stages[i].Status = models.StageStatusApprove
			if guidePath != nil {
				d.stages[i].GuidePath = guidePath
			}
			return nil
		}
	}
	return ErrNotFound
}

func (d *memData) createReviewerAssignment(stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	a := models.ReviewerAssignment{ID: uuid.New(), StageID: stageID, UserID: userID, CreatedAt: time.Now().UTC()}
	d.assignments = append(d.assignments, a)
	return a, nil
}

func (d *memData) listReviewerAssignments(stageID uuid.UUID) ([]models.ReviewerAssignment, error) {
	var out []models.ReviewerAssignment
	for _, a := range d.assignments {
		if a.StageID == stageID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *memData) getReviewerAssignment(stageID, userID uuid.UUID) (models.ReviewerAssignment, error) {
	for _, a := range d.assignments {
		if a.StageID == stageID && a.UserID == userID {
			return a, nil
		}
	}
	return models.ReviewerAssignment{}, ErrNotFound
}

func (d *memData) createUpstream(in UpstreamInput) (models.Upstream, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	up := models.Upstream{
		ID:        in.ID,
		StageID:   in.StageID,
		Status:    models.UpstreamStatusPending,
		GuidePath: in.GuidePath,
		CreatedBy: in.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	d.upstreams = append(d.upstreams, up)
	return up, nil
}

func (d *memData) getUpstream(id uuid.UUID) (models.Upstream, error) {
	for _, up := range d.upstreams {
		if up.ID == id {
			return up, nil
		}
	}
	return models.Upstream{}, ErrNotFound
}

func (d *memData) setUpstreamStatus(id uuid.UUID, status models.UpstreamStatus) error {
	for i := range d.upstreams {
		if d.upstreams[i].ID == id {
			d.upstreams[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (d *memData) listUpstreamsByStage(stageID uuid.UUID) ([]models.Upstream, error) {
	var out []models.Upstream
	// newest first, matching the Postgres ordering
	for i := len(d.upstreams) - 1; i >= 0; i-- {
		if d.upstreams[i].StageID == stageID {
			out = append(out, d.upstreams[i])
		}
	}
	return out, nil
}

func (d *memData) createBallot(in BallotInput) (models.ReviewBallot, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	b := models.ReviewBallot{
		ID:           in.ID,
		UpstreamID:   in.UpstreamID,
		AssignmentID: in.AssignmentID,
		Decision:     models.BallotPending,
		CreatedAt:    time.Now().UTC(),
	}
	d.ballots = append(d.ballots, b)
	return b, nil
}

func (d *memData) getBallotByAssignment(upstreamID, assignmentID uuid.UUID) (models.ReviewBallot, error) {
	for _, b := range d.ballots {
		if b.UpstreamID == upstreamID && b.AssignmentID == assignmentID {
			return b, nil
		}
	}
	return models.ReviewBallot{}, ErrNotFound
}

func (d *memData) setBallotDecision(ballotID uuid.UUID, decision models.BallotDecision) error {
	for i := range d.ballots {
		if d.ballots[i].ID == ballotID {
			now := time.Now().UTC()
			d.ballots[i].Decision = decision
			d.ballots[i].DecidedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (d *memData) listBallotsByUpstream(upstreamID uuid.UUID) ([]models.ReviewBallot, error) {
	var out []models.ReviewBallot
	for _, b := range d.ballots {
		if b.UpstreamID == upstreamID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (d *memData) createStem(in StemInput) (models.Stem, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	st := models.Stem{
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
		CreatedAt:    time.Now().UTC(),
	}
	d.stems = append(d.stems, st)
	return st, nil
}

func (d *memData) listStemsByTrack(trackID uuid.UUID) ([]models.Stem, error) {
	var out []models.Stem
	for _, st := range d.stems {
		if st.TrackID == trackID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (d *memData) createVersionStem(in VersionStemInput) (models.VersionStem, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	vs := models.VersionStem{
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
		CreatedAt:    time.Now().UTC(),
	}
	d.versionStems = append(d.versionStems, vs)
	return vs, nil
}

func (d *memData) listVersionStems(stageID uuid.UUID) ([]models.VersionStem, error) {
	var out []models.VersionStem
	for _, vs := range d.versionStems {
		if vs.StageID == stageID {
			out = append(out, vs)
		}
	}
	return out, nil
}
