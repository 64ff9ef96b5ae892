package store

import (
	"context"
	"fmt"
	"time"
)

// ListingShow is one show as delivered by the listing parser.
type ListingShow struct {
	ShowID   string
	ShowType string
	Name     string
	ImageURL string
}

// ListingEpisode is one episode as delivered by the listing parser.
type ListingEpisode struct {
	ShowID      string
	EpisodeID   string
	Title       string
	Description string
	PartCode    string
	ImageURL    string
}

// ReplaceSchedule imports a parsed program-guide listing in one transaction:
// shows are upserted, unknown episodes inserted, and the schedule table is
// fully replaced. A failed import rolls back and leaves the previous schedule
// intact.
//
// Full replacement rather than incremental patching: the guide source
// reissues the complete window on every fetch, and planning is idempotent
// over whatever schedule is present.
func (s *Store) ReplaceSchedule(ctx context.Context, shows []ListingShow, episodes []ListingEpisode, airings []Airing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin listing import: %w", err)
	}
	defer tx.Rollback()

	for _, sh := range shows {
		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT count(*) FROM show WHERE show_id = ?", sh.ShowID).Scan(&n); err != nil {
			return fmt.Errorf("probe show %s: %w", sh.ShowID, err)
		}
		if n == 0 {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO show(show_id, show_type, name, imageurl) VALUES (?, ?, ?, ?)",
				sh.ShowID, sh.ShowType, sh.Name, nullable(sh.ImageURL))
		} else {
			_, err = tx.ExecContext(ctx,
				"UPDATE show SET show_type = ?, name = ? WHERE show_id = ?",
				sh.ShowType, sh.Name, sh.ShowID)
		}
		if err != nil {
			return fmt.Errorf("import show %s: %w", sh.ShowID, err)
		}
	}

	for _, ep := range episodes {
		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT count(*) FROM episode WHERE show_id = ? AND episode_id = ?",
			ep.ShowID, ep.EpisodeID).Scan(&n); err != nil {
			return fmt.Errorf("probe episode %s/%s: %w", ep.ShowID, ep.EpisodeID, err)
		}
		if n != 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO episode(show_id, episode_id, title, description, part_code, imageurl)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ep.ShowID, ep.EpisodeID, ep.Title, ep.Description,
			nullable(ep.PartCode), nullable(ep.ImageURL)); err != nil {
			return fmt.Errorf("import episode %s/%s: %w", ep.ShowID, ep.EpisodeID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM schedule"); err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	for _, a := range airings {
		if a.ShowID == "" || a.EpisodeID == "" {
			return fmt.Errorf("import schedule row at %s: missing show or episode id", formatTime(a.StartTime))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule(channel_major, channel_minor, start_time, duration, show_id, episode_id, rerun_code)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ChannelMajor, a.ChannelMinor, formatTime(a.StartTime),
			int64(a.Duration.Seconds()), a.ShowID, a.EpisodeID, a.RerunCode); err != nil {
			return fmt.Errorf("import schedule row: %w", err)
		}
	}
	return tx.Commit()
}

// ScheduleTestRecording installs a synthetic airing of the built-in test show
// starting 30 seconds from now on channel 41-1, so an operator can exercise
// the whole capture pipeline without waiting for the guide.
func (s *Store) ScheduleTestRecording(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM show WHERE show_id = 'test'").Scan(&n); err != nil {
		return fmt.Errorf("probe test show: %w", err)
	}
	if n == 0 {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO show (show_id, show_type, name, imageurl) VALUES ('test', 'EP', 'Test Show', NULL)"); err != nil {
			return fmt.Errorf("insert test show: %w", err)
		}
	}
	episodeID, err := s.AllocateRecordingID(ctx)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO episode (show_id, episode_id, title, description, imageurl)
		 VALUES ('test', ?, 'Test Episode', 'Synthetic airing for pipeline checks', NULL)`,
		episodeID); err != nil {
		return fmt.Errorf("insert test episode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule (channel_major, channel_minor, start_time, duration, show_id, episode_id, rerun_code)
		 VALUES (41, 1, ?, 120, 'test', ?, 'R')`,
		formatTime(time.Now().Add(30*time.Second)), episodeID); err != nil {
		return fmt.Errorf("insert test schedule: %w", err)
	}
	return nil
}
