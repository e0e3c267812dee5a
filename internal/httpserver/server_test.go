package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemline/stemline/internal/httpserver"
	"github.com/stemline/stemline/internal/models"
	"github.com/stemline/stemline/internal/review"
	"github.com/stemline/stemline/internal/store"
)

// headerIdentity trusts a test-only header so each request can pick its actor.
type headerIdentity struct{}

func (headerIdentity) UserID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Test-User")
	if raw == "" {
		return uuid.Nil, errors.New("authentication required")
	}
	return uuid.Parse(raw)
}

type testEnv struct {
	server    *httptest.Server
	store     *store.MemoryStore
	stage     models.Stage
	upstream  models.Upstream
	reviewers []uuid.UUID
}

func newTestEnv(t *testing.T, reviewerCount, stemCount int) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	svc := review.New(mem, nil, nil)

	track, err := mem.CreateTrack(ctx, store.TrackInput{OwnerID: uuid.New(), Title: "Demo"})
	require.NoError(t, err)
	stage, err := mem.CreateStage(ctx, store.StageInput{TrackID: track.ID, Version: 1})
	require.NoError(t, err)

	env := &testEnv{store: mem, stage: stage}
	for i := 0; i < reviewerCount; i++ {
		userID := uuid.New()
		_, err := mem.CreateReviewerAssignment(ctx, stage.ID, userID)
		require.NoError(t, err)
		env.reviewers = append(env.reviewers, userID)
	}
	for i := 0; i < stemCount; i++ {
		_, err := mem.CreateStem(ctx, store.StemInput{
			TrackID:    track.ID,
			StageID:    stage.ID,
			UserID:     track.OwnerID,
			CategoryID: uuid.New(),
			Name:       fmt.Sprintf("stem-%d", i),
			FilePath:   fmt.Sprintf("stems/%d.wav", i),
			FileHash:   fmt.Sprintf("hash-%d", i),
		})
		require.NoError(t, err)
	}
	up, err := mem.CreateUpstream(ctx, store.UpstreamInput{StageID: stage.ID, CreatedBy: track.OwnerID})
	require.NoError(t, err)
	env.upstream = up

	srv := httpserver.New(svc, mem, headerIdentity{})
	env.server = httptest.NewServer(srv.Router())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) createReviewSet(t *testing.T) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/stages/%s/upstreams/%s/reviews", e.server.URL, e.stage.ID, e.upstream.ID)
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) submitDecision(t *testing.T, user uuid.UUID, decision string) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/stages/%s/upstreams/%s/decision", e.server.URL, e.stage.ID, e.upstream.ID)
	body, _ := json.Marshal(map[string]string{"decision": decision})
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("X-Test-User", user.String())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateReviewSetEndpoint(t *testing.T) {
	env := newTestEnv(t, 3, 1)

	resp := env.createReviewSet(t)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["ballots"], 3)
}

func TestSubmitDecisionEndpoint(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	env.createReviewSet(t).Body.Close()

	resp := env.submitDecision(t, env.reviewers[0], "approved")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pending", body["aggregate"])

	resp = env.submitDecision(t, env.reviewers[1], "approved")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "approved", body["aggregate"])
	promotion, ok := body["promotion"].(map[string]any)
	require.True(t, ok, "final approval should surface the promotion summary")
	assert.Equal(t, float64(3), promotion["stemCount"])
}

func TestSubmitDecisionNoStanding(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	env.createReviewSet(t).Body.Close()

	resp := env.submitDecision(t, uuid.New(), "approved")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
}

func TestSubmitDecisionRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	env.createReviewSet(t).Body.Close()

	resp := env.submitDecision(t, uuid.Nil, "approved")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitDecisionValidatesInput(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	env.createReviewSet(t).Body.Close()

	resp := env.submitDecision(t, env.reviewers[0], "maybe")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitDecisionConflictAfterTerminal(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	env.createReviewSet(t).Body.Close()

	env.submitDecision(t, env.reviewers[0], "approved").Body.Close()
	resp := env.submitDecision(t, env.reviewers[0], "rejected")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestUpstreamReviewsEndpoint(t *testing.T) {
	env := newTestEnv(t, 2, 1)
	env.createReviewSet(t).Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/upstreams/%s/reviews", env.server.URL, env.upstream.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["ballots"], 2)

	resp, err = http.Get(fmt.Sprintf("%s/upstreams/%s/reviews", env.server.URL, uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStageReviewsEndpoint(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	env.createReviewSet(t).Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/stages/%s/reviews", env.server.URL, env.stage.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["reviews"], 1)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
