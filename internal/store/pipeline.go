package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FileRef points a recording at a file on disk.
type FileRef struct {
	RecordingID int64
	Filename    string
}

// AwaitingTranscode returns the raw captures that have no transcoded file yet,
// in recording order.
func (s *Store) AwaitingTranscode(ctx context.Context) ([]FileRef, error) {
	return s.fileRefQuery(ctx, `
		SELECT recording_id, filename FROM file_raw_video
		WHERE recording_id NOT IN (SELECT recording_id FROM file_transcoded_video)
		ORDER BY recording_id`)
}

// AwaitingBif returns the successfully transcoded recordings that have no
// thumbnail index yet.
func (s *Store) AwaitingBif(ctx context.Context) ([]FileRef, error) {
	return s.fileRefQuery(ctx, `
		SELECT recording_id, filename FROM file_transcoded_video
		WHERE state = 0
		AND recording_id NOT IN (SELECT recording_id FROM file_bif)
		ORDER BY recording_id`)
}

// AttachTranscoded records the outcome of a transcode attempt. State is
// TranscodeSuccessful or TranscodeFailed.
func (s *Store) AttachTranscoded(ctx context.Context, recordingID int64, locationID int, filename string, state int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO file_transcoded_video(recording_id, location_id, filename, state) VALUES (?, ?, ?, ?)",
		recordingID, locationID, filename, state)
	if err != nil {
		return fmt.Errorf("attach transcoded file for %d: %w", recordingID, err)
	}
	return nil
}

// AttachBif records the location of a generated thumbnail index.
func (s *Store) AttachBif(ctx context.Context, recordingID int64, locationID int, filename string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO file_bif(recording_id, location_id, filename) VALUES (?, ?, ?)",
		recordingID, locationID, filename)
	if err != nil {
		return fmt.Errorf("attach bif file for %d: %w", recordingID, err)
	}
	return nil
}

// RecordingDuration returns the scheduled duration of a recording, or zero
// when the recording row is absent.
func (s *Store) RecordingDuration(ctx context.Context, recordingID int64) (time.Duration, error) {
	var secs int64
	err := s.db.QueryRowContext(ctx,
		"SELECT duration FROM recording WHERE recording_id = ?", recordingID).Scan(&secs)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("recording %d duration: %w", recordingID, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// ── reaper queries ────────────────────────────────────────────────────────────

// OrphanRawFiles returns raw-file rows whose recording row no longer exists.
func (s *Store) OrphanRawFiles(ctx context.Context) ([]FileRef, error) {
	return s.fileRefQuery(ctx, `
		SELECT recording_id, filename FROM file_raw_video
		WHERE recording_id NOT IN (SELECT recording_id FROM recording)
		ORDER BY recording_id`)
}

// OrphanTranscodedFiles returns transcoded-file rows whose recording row no
// longer exists.
func (s *Store) OrphanTranscodedFiles(ctx context.Context) ([]FileRef, error) {
	return s.fileRefQuery(ctx, `
		SELECT recording_id, filename FROM file_transcoded_video
		WHERE recording_id NOT IN (SELECT recording_id FROM recording)
		ORDER BY recording_id`)
}

// OrphanBifFiles returns bif rows whose recording row no longer exists.
func (s *Store) OrphanBifFiles(ctx context.Context) ([]FileRef, error) {
	return s.fileRefQuery(ctx, `
		SELECT recording_id, filename FROM file_bif
		WHERE recording_id NOT IN (SELECT recording_id FROM recording)
		ORDER BY recording_id`)
}

// SupersededRawFiles returns raw captures made redundant by a successful
// transcode of the same recording.
func (s *Store) SupersededRawFiles(ctx context.Context) ([]FileRef, error) {
	return s.fileRefQuery(ctx, `
		SELECT file_raw_video.recording_id, file_raw_video.filename
		FROM file_raw_video
		INNER JOIN file_transcoded_video USING (recording_id)
		WHERE file_transcoded_video.state = 0
		ORDER BY file_raw_video.recording_id`)
}

// DeleteRawFile removes a raw-file row.
func (s *Store) DeleteRawFile(ctx context.Context, recordingID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM file_raw_video WHERE recording_id = ?", recordingID)
	return err
}

// DeleteTranscodedFile removes a transcoded-file row.
func (s *Store) DeleteTranscodedFile(ctx context.Context, recordingID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM file_transcoded_video WHERE recording_id = ?", recordingID)
	return err
}

// DeleteBifFile removes a bif row.
func (s *Store) DeleteBifFile(ctx context.Context, recordingID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM file_bif WHERE recording_id = ?", recordingID)
	return err
}

// DeleteFailedTranscode removes a failed transcode row so the next transcode
// tick re-enqueues the recording. Returns the number of rows removed; a
// successful transcode is never removed by this call.
func (s *Store) DeleteFailedTranscode(ctx context.Context, recordingID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM file_transcoded_video WHERE recording_id = ? AND state = 1", recordingID)
	if err != nil {
		return 0, fmt.Errorf("delete failed transcode %d: %w", recordingID, err)
	}
	return res.RowsAffected()
}

// DeleteRecording removes the recording row itself; the reaper then collects
// the file rows and files it referenced.
func (s *Store) DeleteRecording(ctx context.Context, recordingID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM recording WHERE recording_id = ?", recordingID)
	return err
}

// ── playback position and category ────────────────────────────────────────────

// PlaybackPosition returns the saved playback position in seconds, zero when
// never set.
func (s *Store) PlaybackPosition(ctx context.Context, recordingID int64) (int, error) {
	var pos int
	err := s.db.QueryRowContext(ctx,
		"SELECT position FROM playback_position WHERE recording_id = ?", recordingID).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("playback position %d: %w", recordingID, err)
	}
	return pos, nil
}

// SetPlaybackPosition saves the playback position in seconds.
func (s *Store) SetPlaybackPosition(ctx context.Context, recordingID int64, position int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE playback_position SET position = ? WHERE recording_id = ?", position, recordingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO playback_position (recording_id, position) VALUES (?, ?)", recordingID, position)
	}
	return err
}

// CategoryCode returns the recording's category code, empty when the
// recording is absent.
func (s *Store) CategoryCode(ctx context.Context, recordingID int64) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx,
		"SELECT category_code FROM recording WHERE recording_id = ?", recordingID).Scan(&code)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("category code %d: %w", recordingID, err)
	}
	return code, nil
}

// SetCategoryCode updates the recording's category code ("A" marks a
// user-archived recording).
func (s *Store) SetCategoryCode(ctx context.Context, recordingID int64, categoryCode string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE recording SET category_code = ? WHERE recording_id = ?", categoryCode, recordingID)
	return err
}

func (s *Store) fileRefQuery(ctx context.Context, query string, args ...any) ([]FileRef, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("file query: %w", err)
	}
	defer rows.Close()
	var out []FileRef
	for rows.Next() {
		var r FileRef
		if err := rows.Scan(&r.RecordingID, &r.Filename); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
