package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

const (
	memoryTypeEpisode = "episodic"
	memoryTypeFact    = "semantic"
)

// InsertEpisode appends an episodic memory row
func (s *SQLiteStore) InsertEpisode(ctx context.Context, ep *core.Episode) error {
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now().UTC()
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO persistent_memory
				(memory_type, event_id, timestamp, event_type, description, content, sku, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			memoryTypeEpisode, ep.EventID, ep.Timestamp, ep.EventType,
			ep.Description, episodeContent(ep), ep.SKU)
		if err != nil {
			return fmt.Errorf("failed to insert episode: %w", err)
		}
		return nil
	})
}

// Episodes store context/outcome/learning packed in the content column
func episodeContent(ep *core.Episode) string {
	return fmt.Sprintf("context=%s|outcome=%s|learning=%s", ep.Context, ep.Outcome, ep.Learning)
}

// ListEpisodes returns the most recent episodes up to limit
func (s *SQLiteStore) ListEpisodes(ctx context.Context, limit int) ([]core.Episode, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, timestamp, event_type, description, content, sku
		FROM persistent_memory
		WHERE memory_type = ? AND is_active = 1
		ORDER BY timestamp DESC LIMIT ?`, memoryTypeEpisode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []core.Episode
	for rows.Next() {
		var ep core.Episode
		var content string
		if err := rows.Scan(&ep.EventID, &ep.Timestamp, &ep.EventType, &ep.Description, &content, &ep.SKU); err != nil {
			return nil, fmt.Errorf("failed to scan episode row: %w", err)
		}
		ep.Context, ep.Outcome, ep.Learning = splitEpisodeContent(content)
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

func splitEpisodeContent(content string) (ctx, outcome, learning string) {
	for _, part := range strings.Split(content, "|") {
		switch {
		case strings.HasPrefix(part, "context="):
			ctx = strings.TrimPrefix(part, "context=")
		case strings.HasPrefix(part, "outcome="):
			outcome = strings.TrimPrefix(part, "outcome=")
		case strings.HasPrefix(part, "learning="):
			learning = strings.TrimPrefix(part, "learning=")
		}
	}
	return
}

// UpsertFact deactivates any previous fact with the same (category, key)
// and inserts the new one as the latest active record.
func (s *SQLiteStore) UpsertFact(ctx context.Context, fact *core.SemanticFact) error {
	if fact.Timestamp.IsZero() {
		fact.Timestamp = time.Now().UTC()
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin fact upsert: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			UPDATE persistent_memory SET is_active = 0
			WHERE memory_type = ? AND category = ? AND key = ? AND is_active = 1`,
			memoryTypeFact, fact.Category, fact.Key); err != nil {
			return fmt.Errorf("failed to deactivate prior fact: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO persistent_memory
				(memory_type, fact_id, timestamp, category, key, content, source, sku, confidence, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			memoryTypeFact, fact.FactID, fact.Timestamp, fact.Category, fact.Key,
			fact.Content, fact.Source, fact.Key, fact.Confidence); err != nil {
			return fmt.Errorf("failed to insert fact: %w", err)
		}

		return tx.Commit()
	})
}

func (s *SQLiteStore) queryFacts(ctx context.Context, query string, args ...interface{}) ([]core.SemanticFact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	var facts []core.SemanticFact
	for rows.Next() {
		var f core.SemanticFact
		if err := rows.Scan(&f.FactID, &f.Timestamp, &f.Category, &f.Key, &f.Content, &f.Source, &f.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ListFactsByKey returns the active facts for one key (typically a SKU)
func (s *SQLiteStore) ListFactsByKey(ctx context.Context, key string) ([]core.SemanticFact, error) {
	return s.queryFacts(ctx, `
		SELECT fact_id, timestamp, category, key, content, source, confidence
		FROM persistent_memory
		WHERE memory_type = ? AND key = ? AND is_active = 1
		ORDER BY timestamp DESC`, memoryTypeFact, key)
}

// ListFacts returns the most recent active facts up to limit
func (s *SQLiteStore) ListFacts(ctx context.Context, limit int) ([]core.SemanticFact, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryFacts(ctx, `
		SELECT fact_id, timestamp, category, key, content, source, confidence
		FROM persistent_memory
		WHERE memory_type = ? AND is_active = 1
		ORDER BY timestamp DESC LIMIT ?`, memoryTypeFact, limit)
}

// SaveCheckpoint appends one checkpoint row
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_checkpoints
				(checkpoint_id, timestamp, cycle_number, goal, state, is_stable, is_active)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			cp.CheckpointID, cp.Timestamp, cp.CycleNumber, cp.Goal, cp.State, cp.IsStable)
		if err != nil {
			return fmt.Errorf("failed to save checkpoint %s: %w", cp.CheckpointID, err)
		}
		return nil
	})
}

func scanCheckpoint(row interface{ Scan(...interface{}) error }) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	err := row.Scan(&cp.ID, &cp.CheckpointID, &cp.Timestamp, &cp.CycleNumber,
		&cp.Goal, &cp.State, &cp.IsStable, &cp.IsActive)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// LatestStableCheckpoint returns the newest checkpoint safe to resume from
func (s *SQLiteStore) LatestStableCheckpoint(ctx context.Context) (*core.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, checkpoint_id, timestamp, cycle_number, goal, state, is_stable, is_active
		FROM agent_checkpoints
		WHERE is_stable = 1 AND is_active = 1
		ORDER BY timestamp DESC LIMIT 1`)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest stable checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns the most recent checkpoints up to limit
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, limit int) ([]core.Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checkpoint_id, timestamp, cycle_number, goal, state, is_stable, is_active
		FROM agent_checkpoints
		ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []core.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, rows.Err()
}
