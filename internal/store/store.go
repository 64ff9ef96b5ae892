// Package store is the relational backing state for the DVR pipeline.
//
// Everything the pipeline knows — channels, tuners, the program schedule,
// subscriptions, recordings, and the file-location tables — lives in a single
// SQLite database. The store is a single-writer, many-reader abstraction:
// every mutation goes through a parameterized statement and is committed
// before the call returns, so a crash between ticks never loses acknowledged
// state. Errors are always surfaced to the caller; a pipeline tick treats
// them as a transient skip and retries on its next run.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Transcode states recorded in file_transcoded_video.state.
const (
	TranscodeSuccessful = 0
	TranscodeFailed     = 1
)

// timeLayout is the persisted timestamp format: UTC ISO-8601 with a numeric
// zone offset. Lexicographic order equals chronological order because every
// writer formats in UTC, which the range queries over schedule.start_time
// rely on.
const timeLayout = "2006-01-02T15:04:05-0700"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Channel maps a display channel (major-minor) to the tuner frequency channel
// and MPEG-TS program number needed to capture it.
type Channel struct {
	Major   int
	Minor   int
	Actual  int
	Program int
}

// Tuner identifies one physical tuner on a network appliance.
type Tuner struct {
	DeviceID string
	IP       string
	Index    int
}

// Store wraps the SQLite database. Safe for concurrent use; the connection
// pool is capped at one connection so writes serialize at the driver.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initializes the
// schema when the schema_version table is absent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const schemaV1 = `
CREATE TABLE schema_version (
    version        integer);
CREATE TABLE uniqueid (
    next_id        integer);
CREATE TABLE show (
    show_id        text PRIMARY KEY,
    show_type      text,
    name           text,
    imageurl       text);
CREATE TABLE episode (
    show_id        text,
    episode_id     text,
    title          text,
    description    text,
    part_code      text,
    imageurl       text,
    PRIMARY KEY (show_id, episode_id),
    FOREIGN KEY (show_id) REFERENCES show(show_id));
CREATE TABLE channel (
    major          integer,
    minor          integer,
    actual         integer,
    program        integer,
    PRIMARY KEY (major, minor));
CREATE TABLE tuner (
    device_id      text,
    ipaddress      text,
    tuner_id       integer);
CREATE TABLE schedule (
    schedule_id    INTEGER PRIMARY KEY,
    channel_major  integer,
    channel_minor  integer,
    start_time     text,
    duration       integer,
    show_id        text,
    episode_id     text,
    rerun_code     text,
    FOREIGN KEY (channel_major, channel_minor) REFERENCES channel(major, minor),
    FOREIGN KEY (show_id, episode_id) REFERENCES episode(show_id, episode_id));
CREATE TABLE subscription (
    show_id        text PRIMARY KEY,
    priority       integer);
CREATE TABLE recording (
    recording_id   integer PRIMARY KEY,
    show_id        text,
    episode_id     text,
    date_recorded  text,
    duration       integer,
    category_code  text,
    FOREIGN KEY (show_id, episode_id) REFERENCES episode(show_id, episode_id));
CREATE TABLE file_raw_video (
    recording_id   integer PRIMARY KEY,
    filename       text);
CREATE TABLE file_transcoded_video (
    recording_id   integer PRIMARY KEY,
    filename       text,
    state          int,
    location_id    int);
CREATE TABLE file_bif (
    recording_id   integer PRIMARY KEY,
    location_id    int,
    filename       text);
CREATE TABLE playback_position (
    recording_id   integer PRIMARY KEY,
    position       integer);
CREATE VIEW recorded_episodes_by_id AS
    SELECT recording.recording_id, recording.show_id, recording.episode_id
    FROM recording
    LEFT JOIN file_raw_video ON (recording.recording_id = file_raw_video.recording_id)
    LEFT JOIN file_transcoded_video ON (recording.recording_id = file_transcoded_video.recording_id)
    WHERE file_raw_video.filename IS NOT NULL
    OR file_transcoded_video.filename IS NOT NULL;
`

func (s *Store) initSchema() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version != 0 {
		if version != 1 {
			return fmt.Errorf("unsupported schema version %d", version)
		}
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema init: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version VALUES (1)"); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO uniqueid VALUES (1)"); err != nil {
		return err
	}
	return tx.Commit()
}

// schemaVersion returns 0 when the database has never been initialized.
func (s *Store) schemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("probe schema_version: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var version int
	if err := s.db.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return version, nil
}

// AllocateRecordingID atomically increments the unique-id counter and returns
// the pre-increment value. Successive calls yield strictly increasing IDs.
func (s *Store) AllocateRecordingID(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("allocate recording id: %w", err)
	}
	defer tx.Rollback()
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT next_id FROM uniqueid").Scan(&id); err != nil {
		return 0, fmt.Errorf("read uniqueid: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE uniqueid SET next_id = ?", id+1); err != nil {
		return 0, fmt.Errorf("advance uniqueid: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Channels returns every known channel.
func (s *Store) Channels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT major, minor, actual, program FROM channel")
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.Major, &c.Minor, &c.Actual, &c.Program); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Tuners returns every known tuner.
func (s *Store) Tuners(ctx context.Context) ([]Tuner, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT device_id, ipaddress, tuner_id FROM tuner")
	if err != nil {
		return nil, fmt.Errorf("list tuners: %w", err)
	}
	defer rows.Close()
	var out []Tuner
	for rows.Next() {
		var t Tuner
		if err := rows.Scan(&t.DeviceID, &t.IP, &t.Index); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertChannel adds a channel mapping.
func (s *Store) InsertChannel(ctx context.Context, c Channel) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO channel(major, minor, actual, program) VALUES (?, ?, ?, ?)",
		c.Major, c.Minor, c.Actual, c.Program)
	return err
}

// InsertTuner adds a tuner.
func (s *Store) InsertTuner(ctx context.Context, t Tuner) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tuner(device_id, ipaddress, tuner_id) VALUES (?, ?, ?)",
		t.DeviceID, t.IP, t.Index)
	return err
}

// InsertShow adds a show.
func (s *Store) InsertShow(ctx context.Context, showID, showType, name, imageURL string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO show(show_id, show_type, name, imageurl) VALUES (?, ?, ?, ?)",
		showID, showType, name, nullable(imageURL))
	return err
}

// InsertEpisode adds an episode of a show.
func (s *Store) InsertEpisode(ctx context.Context, showID, episodeID, title, description string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO episode(show_id, episode_id, title, description) VALUES (?, ?, ?, ?)",
		showID, episodeID, title, description)
	return err
}

// InsertSchedule adds a projected airing.
func (s *Store) InsertSchedule(ctx context.Context, a Airing) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule(channel_major, channel_minor, start_time, duration, show_id, episode_id, rerun_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ChannelMajor, a.ChannelMinor, formatTime(a.StartTime), int64(a.Duration.Seconds()),
		a.ShowID, a.EpisodeID, a.RerunCode)
	return err
}

// Subscribe opts a show in for automatic recording.
func (s *Store) Subscribe(ctx context.Context, showID string, priority int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO subscription(show_id, priority) VALUES (?, ?)", showID, priority)
	return err
}

// Unsubscribe removes a show's subscription. Removing a show that was never
// subscribed is a no-op.
func (s *Store) Unsubscribe(ctx context.Context, showID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM subscription WHERE show_id = ?", showID)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
