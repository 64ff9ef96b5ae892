package store

import (
	"context"
	"fmt"
	"time"
)

// Airing is one projected airing from the program guide, as imported into the
// schedule table.
type Airing struct {
	ChannelMajor int
	ChannelMinor int
	StartTime    time.Time
	Duration     time.Duration
	ShowID       string
	EpisodeID    string
	RerunCode    string
}

// PlannedRecording is a capture the planner has decided to make: a schedule
// row snapshot carried by the one-shot capture job.
type PlannedRecording struct {
	ScheduleID   int64
	ChannelMajor int
	ChannelMinor int
	StartTime    time.Time
	Duration     time.Duration
	ShowID       string
	EpisodeID    string
	RerunCode    string
}

// PendingRecordings returns the subscribed airings starting in (now, now+window]
// that are not already represented by a raw or transcoded file for the same
// (show, episode). When the same episode airs more than once in the window only
// the earliest airing is returned. Results are ordered by
// (show_id, episode_id, start_time) for determinism.
//
// Deduplication is intentionally file-based: a recording row whose capture
// failed (no file attached) does not block replanning.
func (s *Store) PendingRecordings(ctx context.Context, now time.Time, window time.Duration) ([]PlannedRecording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule.schedule_id, schedule.channel_major, schedule.channel_minor,
		       schedule.start_time, schedule.duration, schedule.show_id,
		       schedule.episode_id, schedule.rerun_code
		FROM schedule
		INNER JOIN subscription ON (schedule.show_id = subscription.show_id)
		WHERE schedule.start_time > ?
		AND schedule.start_time <= ?
		AND (schedule.show_id, schedule.episode_id) NOT IN
		    (SELECT show_id, episode_id FROM recorded_episodes_by_id)
		ORDER BY schedule.show_id, schedule.episode_id, schedule.start_time`,
		formatTime(now), formatTime(now.Add(window)))
	if err != nil {
		return nil, fmt.Errorf("pending recordings: %w", err)
	}
	defer rows.Close()

	var all []PlannedRecording
	for rows.Next() {
		var p PlannedRecording
		var start string
		var durationSecs int64
		if err := rows.Scan(&p.ScheduleID, &p.ChannelMajor, &p.ChannelMinor,
			&start, &durationSecs, &p.ShowID, &p.EpisodeID, &p.RerunCode); err != nil {
			return nil, err
		}
		p.StartTime, err = parseTime(start)
		if err != nil {
			return nil, fmt.Errorf("schedule %d: bad start_time %q: %w", p.ScheduleID, start, err)
		}
		p.Duration = time.Duration(durationSecs) * time.Second
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Row ordering puts the earliest airing of each episode first; keep only
	// that one.
	type episodeKey struct{ showID, episodeID string }
	used := make(map[episodeKey]bool)
	pruned := all[:0]
	for _, p := range all {
		k := episodeKey{p.ShowID, p.EpisodeID}
		if used[k] {
			continue
		}
		used[k] = true
		pruned = append(pruned, p)
	}
	return pruned, nil
}

// CreateRecording writes the recording stub before capture begins. The stub
// alone does not block replanning; only an attached raw or transcoded file
// does.
func (s *Store) CreateRecording(ctx context.Context, recordingID int64, showID, episodeID string, duration time.Duration, categoryCode string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recording(recording_id, show_id, episode_id, date_recorded, duration, category_code)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		recordingID, showID, episodeID, formatTime(time.Now()),
		int64(duration.Seconds()), categoryCode)
	if err != nil {
		return fmt.Errorf("create recording %d: %w", recordingID, err)
	}
	return nil
}

// AttachRaw records the on-disk location of a successful capture.
func (s *Store) AttachRaw(ctx context.Context, recordingID int64, filename string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO file_raw_video(recording_id, filename) VALUES (?, ?)",
		recordingID, filename)
	if err != nil {
		return fmt.Errorf("attach raw file for %d: %w", recordingID, err)
	}
	return nil
}

// RemainingListingTime reports how far into the future the imported schedule
// extends. Zero when no schedule rows exist.
func (s *Store) RemainingListingTime(ctx context.Context) (time.Duration, error) {
	var latest *string
	if err := s.db.QueryRowContext(ctx, "SELECT max(start_time) FROM schedule").Scan(&latest); err != nil {
		return 0, fmt.Errorf("remaining listing time: %w", err)
	}
	if latest == nil {
		return 0, nil
	}
	t, err := parseTime(*latest)
	if err != nil {
		return 0, err
	}
	return time.Until(t), nil
}
