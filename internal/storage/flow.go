package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fridaysatfour/wingman/internal/progress"
)

// resultTable names the terminal result table of a family. The values are
// constants, never user input, so they are safe to splice into SQL.
func resultTable(f progress.Family) (string, error) {
	switch f {
	case progress.FamilyAssessment:
		return "creativity_profiles", nil
	case progress.FamilyPlanning:
		return "project_overviews", nil
	}
	return "", fmt.Errorf("unknown flow family %q", f)
}

const progressColumns = `p.user_id, p.current_step, p.total_steps, p.responses, p.is_completed,
	p.skipped_until, p.has_seen_intro, p.intro_stage, p.intro_data, p.updated_at`

// GetFlowFamily reads the progress record of one family together with the
// existence of its result record, in a single query. Progress is nil when the
// user never started the family.
func (s *Store) GetFlowFamily(ctx context.Context, userID string, family progress.Family) (progress.Snapshot, error) {
	table, err := resultTable(family)
	if err != nil {
		return progress.Snapshot{}, err
	}

	query := `SELECT EXISTS(SELECT 1 FROM ` + table + ` WHERE user_id = ?), ` + progressColumns + `
		FROM (SELECT 1) AS one
		LEFT JOIN flow_progress p ON p.user_id = ? AND p.family = ?`

	var exists bool
	row := progressRow{}
	err = s.db.QueryRowContext(ctx, query, userID, userID, string(family)).Scan(append([]any{&exists}, row.dest()...)...)
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("reading %s flow for %s: %w", family, userID, err)
	}

	snap := progress.Snapshot{ResultExists: exists}
	if row.userID.Valid {
		rec, err := row.record(family)
		if err != nil {
			return progress.Snapshot{}, err
		}
		snap.Progress = &rec
	}
	return snap, nil
}

// GetProgress loads the progress record of one family. Returns ErrNotFound
// when absent.
func (s *Store) GetProgress(ctx context.Context, userID string, family progress.Family) (progress.Record, error) {
	row := progressRow{}
	err := s.db.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM flow_progress p WHERE p.user_id = ? AND p.family = ?`,
		userID, string(family)).Scan(row.dest()...)
	if err == sql.ErrNoRows {
		return progress.Record{}, ErrNotFound
	}
	if err != nil {
		return progress.Record{}, fmt.Errorf("reading %s progress for %s: %w", family, userID, err)
	}
	return row.record(family)
}

// UpsertProgress writes a whole progress record in one statement. The
// completed and has-seen-intro flags never revert once set.
func (s *Store) UpsertProgress(ctx context.Context, rec progress.Record) error {
	if !rec.Family.Valid() {
		return fmt.Errorf("unknown flow family %q", rec.Family)
	}
	responses, err := json.Marshal(rec.Responses)
	if err != nil {
		return fmt.Errorf("encoding responses: %w", err)
	}
	intro, err := json.Marshal(rec.Intro.IntroData)
	if err != nil {
		return fmt.Errorf("encoding intro data: %w", err)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_progress (user_id, family, current_step, total_steps, responses, completion_percentage,
			is_completed, skipped_until, has_seen_intro, intro_stage, intro_data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, family) DO UPDATE SET
			current_step = excluded.current_step,
			total_steps = excluded.total_steps,
			responses = excluded.responses,
			completion_percentage = excluded.completion_percentage,
			is_completed = MAX(flow_progress.is_completed, excluded.is_completed),
			skipped_until = excluded.skipped_until,
			has_seen_intro = MAX(flow_progress.has_seen_intro, excluded.has_seen_intro),
			intro_stage = excluded.intro_stage,
			intro_data = excluded.intro_data,
			updated_at = excluded.updated_at`,
		rec.UserID, string(rec.Family), rec.CurrentStep, rec.TotalSteps, string(responses),
		rec.CompletionPercentage(), rec.IsCompleted, nullableTime(rec.SkippedUntil),
		rec.Intro.HasSeenIntro, rec.Intro.IntroStage, string(intro), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("upserting %s progress for %s: %w", rec.Family, rec.UserID, err)
	}
	return nil
}

// SetSkippedUntil stamps a cooldown on a family record, creating a minimal
// record when the user has none yet. Nothing else on an existing record changes.
func (s *Store) SetSkippedUntil(ctx context.Context, userID string, family progress.Family, until time.Time, totalSteps int) error {
	if !family.Valid() {
		return fmt.Errorf("unknown flow family %q", family)
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_progress (user_id, family, current_step, total_steps, skipped_until, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id, family) DO UPDATE SET
			skipped_until = excluded.skipped_until,
			updated_at = excluded.updated_at`,
		userID, string(family), totalSteps, formatTime(until), now,
	)
	if err != nil {
		return fmt.Errorf("setting %s cooldown for %s: %w", family, userID, err)
	}
	return nil
}

// ResetUser deletes every flow record, result and conversation turn of a user.
func (s *Store) ResetUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reset: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"flow_progress", "creativity_profiles", "project_overviews", "conversations"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return tx.Commit()
}

type progressRow struct {
	userID       sql.NullString
	currentStep  sql.NullInt64
	totalSteps   sql.NullInt64
	responses    sql.NullString
	isCompleted  sql.NullBool
	skippedUntil sql.NullString
	hasSeenIntro sql.NullBool
	introStage   sql.NullInt64
	introData    sql.NullString
	updatedAt    sql.NullString
}

func (r *progressRow) dest() []any {
	return []any{&r.userID, &r.currentStep, &r.totalSteps, &r.responses, &r.isCompleted,
		&r.skippedUntil, &r.hasSeenIntro, &r.introStage, &r.introData, &r.updatedAt}
}

func (r *progressRow) record(family progress.Family) (progress.Record, error) {
	rec := progress.Record{
		UserID:      r.userID.String,
		Family:      family,
		CurrentStep: int(r.currentStep.Int64),
		TotalSteps:  int(r.totalSteps.Int64),
		IsCompleted: r.isCompleted.Bool,
		Responses:   progress.Responses{},
		Intro: progress.IntroFlags{
			HasSeenIntro: r.hasSeenIntro.Bool,
			IntroStage:   int(r.introStage.Int64),
		},
	}
	if r.responses.Valid && r.responses.String != "" {
		if err := json.Unmarshal([]byte(r.responses.String), &rec.Responses); err != nil {
			return progress.Record{}, fmt.Errorf("decoding responses for %s: %w", rec.UserID, err)
		}
	}
	if r.introData.Valid && r.introData.String != "" {
		if err := json.Unmarshal([]byte(r.introData.String), &rec.Intro.IntroData); err != nil {
			return progress.Record{}, fmt.Errorf("decoding intro data for %s: %w", rec.UserID, err)
		}
	}
	if r.skippedUntil.Valid && r.skippedUntil.String != "" {
		rec.SkippedUntil = progress.ParseTimestamp(r.skippedUntil.String)
		if rec.SkippedUntil == nil {
			slog.Warn("ignoring unparseable skipped_until", "user_id", rec.UserID, "family", family, "value", r.skippedUntil.String)
		}
	}
	if r.updatedAt.Valid {
		rec.UpdatedAt, _ = parseTime(r.updatedAt.String)
	}
	return rec, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
