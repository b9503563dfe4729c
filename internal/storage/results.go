package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveCreativityProfile writes the assessment result. Saving again replaces
// the scores but keeps the original created_at.
func (s *Store) SaveCreativityProfile(ctx context.Context, p CreativityProfile) error {
	scores, err := json.Marshal(nonNilFloats(p.ArchetypeScores))
	if err != nil {
		return fmt.Errorf("encoding archetype scores: %w", err)
	}
	responses, err := json.Marshal(nonNilStrings(p.TestResponses))
	if err != nil {
		return fmt.Errorf("encoding test responses: %w", err)
	}
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO creativity_profiles (user_id, variant, archetype, archetype_scores, experience_level, test_responses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			variant = excluded.variant,
			archetype = excluded.archetype,
			archetype_scores = excluded.archetype_scores,
			experience_level = excluded.experience_level,
			test_responses = excluded.test_responses,
			updated_at = excluded.updated_at`,
		p.UserID, p.Variant, p.Archetype, string(scores), p.ExperienceLevel, string(responses), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving creativity profile for %s: %w", p.UserID, err)
	}
	return nil
}

// GetCreativityProfile returns ErrNotFound when the user has no assessment result.
func (s *Store) GetCreativityProfile(ctx context.Context, userID string) (CreativityProfile, error) {
	var p CreativityProfile
	var scores, responses, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, variant, archetype, archetype_scores, experience_level, test_responses, created_at, updated_at
		FROM creativity_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Variant, &p.Archetype, &scores, &p.ExperienceLevel, &responses, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return CreativityProfile{}, ErrNotFound
	}
	if err != nil {
		return CreativityProfile{}, fmt.Errorf("reading creativity profile for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(scores), &p.ArchetypeScores); err != nil {
		return CreativityProfile{}, fmt.Errorf("decoding archetype scores: %w", err)
	}
	if err := json.Unmarshal([]byte(responses), &p.TestResponses); err != nil {
		return CreativityProfile{}, fmt.Errorf("decoding test responses: %w", err)
	}
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	return p, nil
}

// SaveProjectOverview writes the planning result. The summary column is
// owned by the summary worker and is left untouched on conflict.
func (s *Store) SaveProjectOverview(ctx context.Context, o ProjectOverview) error {
	topics, err := json.Marshal(nonNilStrings(o.TopicResponses))
	if err != nil {
		return fmt.Errorf("encoding topic responses: %w", err)
	}
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_overviews (user_id, project_name, project_type, description, goals, challenges,
			success_metrics, timeline, working_style, topic_responses, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			project_name = excluded.project_name,
			project_type = excluded.project_type,
			description = excluded.description,
			goals = excluded.goals,
			challenges = excluded.challenges,
			success_metrics = excluded.success_metrics,
			timeline = excluded.timeline,
			working_style = excluded.working_style,
			topic_responses = excluded.topic_responses,
			updated_at = excluded.updated_at`,
		o.UserID, o.ProjectName, o.ProjectType, o.Description, o.Goals, o.Challenges,
		o.SuccessMetrics, o.Timeline, o.WorkingStyle, string(topics), o.Summary, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving project overview for %s: %w", o.UserID, err)
	}
	return nil
}

// GetProjectOverview returns ErrNotFound when the user has no planning result.
func (s *Store) GetProjectOverview(ctx context.Context, userID string) (ProjectOverview, error) {
	var o ProjectOverview
	var topics, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, project_name, project_type, description, goals, challenges, success_metrics,
			timeline, working_style, topic_responses, summary, created_at, updated_at
		FROM project_overviews WHERE user_id = ?`, userID,
	).Scan(&o.UserID, &o.ProjectName, &o.ProjectType, &o.Description, &o.Goals, &o.Challenges, &o.SuccessMetrics,
		&o.Timeline, &o.WorkingStyle, &topics, &o.Summary, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ProjectOverview{}, ErrNotFound
	}
	if err != nil {
		return ProjectOverview{}, fmt.Errorf("reading project overview for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(topics), &o.TopicResponses); err != nil {
		return ProjectOverview{}, fmt.Errorf("decoding topic responses: %w", err)
	}
	o.CreatedAt, _ = parseTime(createdAt)
	o.UpdatedAt, _ = parseTime(updatedAt)
	return o, nil
}

// UpdateOverviewSummary stores the generated summary of a project overview.
func (s *Store) UpdateOverviewSummary(ctx context.Context, userID, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE project_overviews SET summary = ?, updated_at = ? WHERE user_id = ?`,
		summary, formatTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("updating overview summary for %s: %w", userID, err)
	}
	return expectOneRow(res)
}

func nonNilFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func nonNilStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
