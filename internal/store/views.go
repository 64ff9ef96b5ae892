package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordingSummary is one row of the recordings browse view.
type RecordingSummary struct {
	RecordingID  int64
	ShowName     string
	EpisodeID    string
	EpisodeTitle string
	DateRecorded time.Time
	Duration     time.Duration
}

// RecordingDetail is the full description of one recording for the remote
// client's springboard.
type RecordingDetail struct {
	RecordingID          int64
	ShowName             string
	ShowImageURL         string
	EpisodeID            string
	EpisodeTitle         string
	EpisodeDescription   string
	DateRecorded         time.Time
	Duration             time.Duration
	TranscodedLocationID int
	BifLocationID        int
}

// UpcomingAiring is one row of the upcoming-recordings view.
type UpcomingAiring struct {
	StartTime    time.Time
	ChannelMajor int
	ChannelMinor int
	ShowID       string
	ShowName     string
	EpisodeID    string
	EpisodeTitle string
}

// ShowSummary is one show in the subscription list.
type ShowSummary struct {
	ShowID     string
	Name       string
	Subscribed bool
}

// Inconsistencies reconciles the recording table against the file-location
// tables, for the admin surface.
type Inconsistencies struct {
	RecordingsWithoutFiles []RecordingSummary
	FilesWithoutRecordings []OrphanFiles
	ReclaimableRawFiles    []FileRef
}

// OrphanFiles groups the file rows of a recording id that has no recording
// row. Empty fields mean no row of that kind.
type OrphanFiles struct {
	RecordingID     int64
	RawVideo        string
	TranscodedVideo string
	Bif             string
}

// AllRecordings returns every recording backed by a raw or transcoded file,
// newest first.
func (s *Store) AllRecordings(ctx context.Context) ([]RecordingSummary, error) {
	return s.summaryQuery(ctx, `
		SELECT recording.recording_id, show.name, episode.episode_id, episode.title,
		       recording.date_recorded, recording.duration
		FROM recording
		INNER JOIN show ON (recording.show_id = show.show_id)
		INNER JOIN episode ON (recording.show_id = episode.show_id AND recording.episode_id = episode.episode_id)
		WHERE recording.recording_id IN
		    (SELECT recording_id FROM file_raw_video UNION SELECT recording_id FROM file_transcoded_video)
		ORDER BY date_recorded DESC`)
}

// RecentRecordings returns recordings made in the last two days, newest first.
func (s *Store) RecentRecordings(ctx context.Context) ([]RecordingSummary, error) {
	cutoff := formatTime(time.Now().Add(-48 * time.Hour))
	return s.summaryQuery(ctx, `
		SELECT recording.recording_id, show.name, episode.episode_id, episode.title,
		       recording.date_recorded, recording.duration
		FROM recording
		INNER JOIN show ON (recording.show_id = show.show_id)
		INNER JOIN episode ON (recording.show_id = episode.show_id AND recording.episode_id = episode.episode_id)
		WHERE date_recorded > ?
		ORDER BY date_recorded DESC`, cutoff)
}

// Recording returns the detail view for one recording, or nil when absent.
func (s *Store) Recording(ctx context.Context, recordingID int64) (*RecordingDetail, error) {
	var d RecordingDetail
	var showImage *string
	var dateRecorded string
	var durationSecs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT recording.recording_id, show.name, show.imageurl, episode.episode_id,
		       episode.title, episode.description, recording.date_recorded, recording.duration
		FROM recording, show, episode
		WHERE recording.show_id = show.show_id
		AND recording.show_id = episode.show_id
		AND recording.episode_id = episode.episode_id
		AND recording.recording_id = ?`, recordingID).
		Scan(&d.RecordingID, &d.ShowName, &showImage, &d.EpisodeID,
			&d.EpisodeTitle, &d.EpisodeDescription, &dateRecorded, &durationSecs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recording %d: %w", recordingID, err)
	}
	if showImage != nil {
		d.ShowImageURL = *showImage
	}
	if d.DateRecorded, err = parseTime(dateRecorded); err != nil {
		return nil, err
	}
	d.Duration = time.Duration(durationSecs) * time.Second

	// Location ids are zero when the corresponding file row is absent.
	err = s.db.QueryRowContext(ctx,
		"SELECT location_id FROM file_transcoded_video WHERE recording_id = ?",
		recordingID).Scan(&d.TranscodedLocationID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("recording %d transcoded location: %w", recordingID, err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT location_id FROM file_bif WHERE recording_id = ?",
		recordingID).Scan(&d.BifLocationID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("recording %d bif location: %w", recordingID, err)
	}
	return &d, nil
}

// UpcomingRecordings returns the subscribed airings from now on that planning
// would record, one per episode (earliest airing), ordered by start time.
func (s *Store) UpcomingRecordings(ctx context.Context) ([]UpcomingAiring, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule.start_time, schedule.channel_major, schedule.channel_minor,
		       show.show_id, show.name, episode.episode_id, episode.title
		FROM schedule
		INNER JOIN subscription ON (schedule.show_id = subscription.show_id)
		INNER JOIN show ON (schedule.show_id = show.show_id)
		INNER JOIN episode ON (schedule.show_id = episode.show_id AND schedule.episode_id = episode.episode_id)
		WHERE schedule.start_time >= ?
		AND (schedule.show_id, schedule.episode_id) NOT IN
		    (SELECT show_id, episode_id FROM recorded_episodes_by_id)
		ORDER BY schedule.start_time, schedule.show_id, schedule.episode_id`,
		formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("upcoming recordings: %w", err)
	}
	defer rows.Close()

	type episodeKey struct{ showID, episodeID string }
	used := make(map[episodeKey]bool)
	var out []UpcomingAiring
	for rows.Next() {
		var u UpcomingAiring
		var start string
		if err := rows.Scan(&start, &u.ChannelMajor, &u.ChannelMinor,
			&u.ShowID, &u.ShowName, &u.EpisodeID, &u.EpisodeTitle); err != nil {
			return nil, err
		}
		if u.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		k := episodeKey{u.ShowID, u.EpisodeID}
		if used[k] {
			continue
		}
		used[k] = true
		out = append(out, u)
	}
	return out, rows.Err()
}

// Shows lists every show, subscribed first, each alphabetical by name.
func (s *Store) Shows(ctx context.Context) ([]ShowSummary, error) {
	var out []ShowSummary
	rows, err := s.db.QueryContext(ctx, `
		SELECT show.show_id, show.name FROM show, subscription
		WHERE show.show_id = subscription.show_id ORDER BY show.name`)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sh ShowSummary
		if err := rows.Scan(&sh.ShowID, &sh.Name); err != nil {
			return nil, err
		}
		sh.Subscribed = true
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows2, err := s.db.QueryContext(ctx, `
		SELECT show_id, name FROM show
		WHERE show_id NOT IN (SELECT show_id FROM subscription) ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows2.Close()
	for rows2.Next() {
		var sh ShowSummary
		if err := rows2.Scan(&sh.ShowID, &sh.Name); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows2.Err()
}

// TranscodeFailures returns recordings whose transcode attempt failed,
// newest first.
func (s *Store) TranscodeFailures(ctx context.Context) ([]RecordingSummary, error) {
	return s.summaryQuery(ctx, `
		SELECT recording.recording_id, show.name, episode.episode_id, episode.title,
		       recording.date_recorded, recording.duration
		FROM recording
		JOIN episode USING (show_id, episode_id)
		JOIN show USING (show_id)
		WHERE recording.recording_id IN
		    (SELECT recording_id FROM file_transcoded_video WHERE state = 1)
		ORDER BY date_recorded DESC`)
}

// PendingTranscodes returns captured recordings not yet transcoded,
// newest first.
func (s *Store) PendingTranscodes(ctx context.Context) ([]RecordingSummary, error) {
	return s.summaryQuery(ctx, `
		SELECT recording.recording_id, show.name, episode.episode_id, episode.title,
		       recording.date_recorded, recording.duration
		FROM recording
		JOIN episode USING (show_id, episode_id)
		JOIN show USING (show_id)
		WHERE recording.recording_id NOT IN (SELECT recording_id FROM file_transcoded_video)
		AND recording.recording_id IN (SELECT recording_id FROM file_raw_video)
		ORDER BY date_recorded DESC`)
}

// FindInconsistencies builds the admin reconciliation report.
func (s *Store) FindInconsistencies(ctx context.Context) (*Inconsistencies, error) {
	var inc Inconsistencies
	var err error
	if inc.RecordingsWithoutFiles, err = s.recordingsWithoutFiles(ctx); err != nil {
		return nil, err
	}
	if inc.FilesWithoutRecordings, err = s.filesWithoutRecordings(ctx); err != nil {
		return nil, err
	}
	if inc.ReclaimableRawFiles, err = s.SupersededRawFiles(ctx); err != nil {
		return nil, err
	}
	return &inc, nil
}

func (s *Store) recordingsWithoutFiles(ctx context.Context) ([]RecordingSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recording.recording_id, show.name, episode.title, date_recorded
		FROM recording
		JOIN episode USING (show_id, episode_id)
		JOIN show USING (show_id)
		LEFT JOIN file_raw_video ON (recording.recording_id = file_raw_video.recording_id)
		LEFT JOIN file_transcoded_video ON (recording.recording_id = file_transcoded_video.recording_id)
		WHERE file_raw_video.filename IS NULL
		AND file_transcoded_video.filename IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("recordings without files: %w", err)
	}
	defer rows.Close()
	var out []RecordingSummary
	for rows.Next() {
		var r RecordingSummary
		var dateRecorded string
		if err := rows.Scan(&r.RecordingID, &r.ShowName, &r.EpisodeTitle, &dateRecorded); err != nil {
			return nil, err
		}
		if r.DateRecorded, err = parseTime(dateRecorded); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) filesWithoutRecordings(ctx context.Context) ([]OrphanFiles, error) {
	raw, err := s.OrphanRawFiles(ctx)
	if err != nil {
		return nil, err
	}
	transcoded, err := s.OrphanTranscodedFiles(ctx)
	if err != nil {
		return nil, err
	}
	bif, err := s.OrphanBifFiles(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[int64]*OrphanFiles)
	lookup := func(id int64) *OrphanFiles {
		if o, ok := merged[id]; ok {
			return o
		}
		o := &OrphanFiles{RecordingID: id}
		merged[id] = o
		return o
	}
	for _, r := range raw {
		lookup(r.RecordingID).RawVideo = r.Filename
	}
	for _, r := range transcoded {
		lookup(r.RecordingID).TranscodedVideo = r.Filename
	}
	for _, r := range bif {
		lookup(r.RecordingID).Bif = r.Filename
	}
	out := make([]OrphanFiles, 0, len(merged))
	for _, o := range merged {
		out = append(out, *o)
	}
	return out, nil
}

func (s *Store) summaryQuery(ctx context.Context, query string, args ...any) ([]RecordingSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recording summary: %w", err)
	}
	defer rows.Close()
	var out []RecordingSummary
	for rows.Next() {
		var r RecordingSummary
		var dateRecorded string
		var durationSecs int64
		if err := rows.Scan(&r.RecordingID, &r.ShowName, &r.EpisodeID, &r.EpisodeTitle,
			&dateRecorded, &durationSecs); err != nil {
			return nil, err
		}
		if r.DateRecorded, err = parseTime(dateRecorded); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationSecs) * time.Second
		out = append(out, r)
	}
	return out, rows.Err()
}
