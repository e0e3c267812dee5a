package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
  id uuid PRIMARY KEY,
  owner_id uuid NOT NULL,
  title text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stages (
  id uuid PRIMARY KEY,
  track_id uuid NOT NULL REFERENCES tracks(id),
  version integer NOT NULL,
  status text NOT NULL DEFAULT 'active',
  guide_path text,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_stages_track ON stages (track_id);

CREATE TABLE IF NOT EXISTS reviewer_assignments (
  id uuid PRIMARY KEY,
  stage_id uuid NOT NULL REFERENCES stages(id),
  user_id uuid NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  UNIQUE (stage_id, user_id)
);

CREATE TABLE IF NOT EXISTS upstreams (
  id uuid PRIMARY KEY,
  stage_id uuid NOT NULL REFERENCES stages(id),
  status text NOT NULL DEFAULT 'pending',
  guide_path text,
  created_by uuid NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_upstreams_stage ON upstreams (stage_id, created_at DESC);

CREATE TABLE IF NOT EXISTS review_ballots (
  id uuid PRIMARY KEY,
  upstream_id uuid NOT NULL REFERENCES upstreams(id),
  assignment_id uuid NOT NULL REFERENCES reviewer_assignments(id),
  decision text NOT NULL DEFAULT 'pending',
  created_at timestamptz NOT NULL DEFAULT now(),
  decided_at timestamptz,
  UNIQUE (upstream_id, assignment_id)
);
CREATE INDEX IF NOT EXISTS idx_ballots_upstream ON review_ballots (upstream_id);

CREATE TABLE IF NOT EXISTS stems (
  id uuid PRIMARY KEY,
  track_id uuid NOT NULL REFERENCES tracks(id),
  stage_id uuid NOT NULL REFERENCES stages(id),
  user_id uuid NOT NULL,
  category_id uuid NOT NULL,
  name text NOT NULL,
  file_path text NOT NULL,
  file_hash text NOT NULL,
  key text NOT NULL DEFAULT '',
  bpm integer NOT NULL DEFAULT 0,
  waveform_path text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_stems_track ON stems (track_id);

CREATE TABLE IF NOT EXISTS version_stems (
  id uuid PRIMARY KEY,
  stage_id uuid NOT NULL REFERENCES stages(id),
  track_id uuid NOT NULL REFERENCES tracks(id),
  user_id uuid NOT NULL,
  category_id uuid NOT NULL,
  version integer NOT NULL,
  name text NOT NULL,
  file_path text NOT NULL,
  file_hash text NOT NULL,
  key text NOT NULL DEFAULT '',
  bpm integer NOT NULL DEFAULT 0,
  waveform_path text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_version_stems_stage ON version_stems (stage_id);
`

// EnsureSchema creates the engine's tables if they do not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
