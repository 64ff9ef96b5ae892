package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/carbondvr/carbon-dvr/internal/store"
)

func newServer(t *testing.T) (*Server, *store.Store, http.Handler) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "dvr.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	srv := New(s, nil, 1000, 1000)
	return srv, s, srv.Handler()
}

func seedRecording(t *testing.T, s *store.Store, id int64) {
	t.Helper()
	ctx := context.Background()
	if err := s.InsertShow(ctx, "s1", "EP", "Show One", "http://img/s1"); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEpisode(ctx, "s1", "e1", "Pilot", "first one"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRecording(ctx, id, "s1", "e1", 30*time.Minute, "N"); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachRaw(ctx, id, "/video/raw.ts"); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	_, _, h := newServer(t)
	w := do(t, h, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Status string `json:"status"`
	}
	decode(t, w, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
}

func TestRecordingsRoundTrip(t *testing.T) {
	_, s, h := newServer(t)
	seedRecording(t, s, 1)

	w := do(t, h, "GET", "/recordings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Recordings []struct {
			RecordingID  int64  `json:"recording_id"`
			ShowName     string `json:"show_name"`
			DurationSecs int64  `json:"duration_seconds"`
		} `json:"recordings"`
	}
	decode(t, w, &list)
	if len(list.Recordings) != 1 || list.Recordings[0].ShowName != "Show One" ||
		list.Recordings[0].DurationSecs != 1800 {
		t.Errorf("recordings = %+v", list.Recordings)
	}

	w = do(t, h, "GET", "/recordings/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var detail struct {
		EpisodeTitle string `json:"episode_title"`
	}
	decode(t, w, &detail)
	if detail.EpisodeTitle != "Pilot" {
		t.Errorf("detail = %+v", detail)
	}

	if w := do(t, h, "GET", "/recordings/404", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing recording status = %d", w.Code)
	}
	if w := do(t, h, "GET", "/recordings/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", w.Code)
	}

	if w := do(t, h, "DELETE", "/recordings/1", ""); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	// Row gone; files become the reaper's problem.
	if orphans, _ := s.OrphanRawFiles(context.Background()); len(orphans) != 1 {
		t.Errorf("orphan raw files = %+v, want the deleted recording's file", orphans)
	}
}

func TestPlaybackPosition(t *testing.T) {
	_, s, h := newServer(t)
	seedRecording(t, s, 1)

	w := do(t, h, "PUT", "/recordings/1/playbackPosition", `{"position_seconds": 321}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", w.Code, w.Body.String())
	}
	w = do(t, h, "GET", "/recordings/1/playbackPosition", "")
	var body struct {
		PositionSeconds int `json:"position_seconds"`
	}
	decode(t, w, &body)
	if body.PositionSeconds != 321 {
		t.Errorf("position = %d", body.PositionSeconds)
	}
	if w := do(t, h, "PUT", "/recordings/1/playbackPosition", `{"position_seconds": -5}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative position status = %d", w.Code)
	}
}

func TestArchiveState(t *testing.T) {
	_, s, h := newServer(t)
	seedRecording(t, s, 1)

	w := do(t, h, "PUT", "/recordings/1/archiveState", `{"archived": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d", w.Code)
	}
	if code, _ := s.CategoryCode(context.Background(), 1); code != "A" {
		t.Errorf("category = %q, want A", code)
	}
	w = do(t, h, "GET", "/recordings/1/archiveState", "")
	var body struct {
		Archived bool `json:"archived"`
	}
	decode(t, w, &body)
	if !body.Archived {
		t.Error("archived = false after PUT true")
	}
}

func TestRetryTranscode(t *testing.T) {
	_, s, h := newServer(t)
	seedRecording(t, s, 1)
	ctx := context.Background()
	if err := s.AttachTranscoded(ctx, 1, 1, "/video/1.mp4", store.TranscodeFailed); err != nil {
		t.Fatal(err)
	}

	if w := do(t, h, "POST", "/recordings/1/retryTranscode", ""); w.Code != http.StatusOK {
		t.Errorf("retry status = %d", w.Code)
	}
	// Second retry finds nothing to delete.
	if w := do(t, h, "POST", "/recordings/1/retryTranscode", ""); w.Code != http.StatusNotFound {
		t.Errorf("second retry status = %d", w.Code)
	}
	// A successful transcode is never requeued.
	if err := s.AttachTranscoded(ctx, 1, 1, "/video/1.mp4", store.TranscodeSuccessful); err != nil {
		t.Fatal(err)
	}
	if w := do(t, h, "POST", "/recordings/1/retryTranscode", ""); w.Code != http.StatusNotFound {
		t.Errorf("retry on successful transcode status = %d", w.Code)
	}
}

func TestSubscriptionTogglesTriggerReplan(t *testing.T) {
	srv, s, _ := newServer(t)
	if err := s.InsertShow(context.Background(), "s1", "EP", "Show One", ""); err != nil {
		t.Fatal(err)
	}
	var replans int
	srv.Replan = func(context.Context) { replans++ }
	h := srv.Handler()

	if w := do(t, h, "PUT", "/shows/s1/subscription", ""); w.Code != http.StatusOK {
		t.Fatalf("subscribe status = %d", w.Code)
	}
	if w := do(t, h, "DELETE", "/shows/s1/subscription", ""); w.Code != http.StatusOK {
		t.Fatalf("unsubscribe status = %d", w.Code)
	}
	if replans != 2 {
		t.Errorf("replans = %d, want 2", replans)
	}

	w := do(t, h, "GET", "/shows", "")
	var body struct {
		Shows []struct {
			ShowID     string `json:"show_id"`
			Subscribed bool   `json:"subscribed"`
		} `json:"shows"`
	}
	decode(t, w, &body)
	if len(body.Shows) != 1 || body.Shows[0].Subscribed {
		t.Errorf("shows = %+v", body.Shows)
	}
}

func TestImportListingsAndUpcoming(t *testing.T) {
	srv, s, _ := newServer(t)
	var replanned bool
	srv.Replan = func(context.Context) { replanned = true }
	h := srv.Handler()

	start := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	payload := `{
		"shows": [{"show_id": "s1", "show_type": "EP", "name": "Show One"}],
		"episodes": [{"show_id": "s1", "episode_id": "e1", "title": "Pilot"}],
		"schedule": [{"channel_major": 1, "channel_minor": 1, "start_time": "` + start + `",
		              "duration_seconds": 1800, "show_id": "s1", "episode_id": "e1", "rerun_code": "N"}]
	}`
	w := do(t, h, "POST", "/admin/listings", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", w.Code, w.Body.String())
	}
	if !replanned {
		t.Error("import did not trigger a replan")
	}

	if err := s.Subscribe(context.Background(), "s1", 1); err != nil {
		t.Fatal(err)
	}
	w = do(t, h, "GET", "/upcoming", "")
	var body struct {
		Upcoming []struct {
			Channel   string `json:"channel"`
			EpisodeID string `json:"episode_id"`
		} `json:"upcoming"`
	}
	decode(t, w, &body)
	if len(body.Upcoming) != 1 || body.Upcoming[0].Channel != "1-1" || body.Upcoming[0].EpisodeID != "e1" {
		t.Errorf("upcoming = %+v", body.Upcoming)
	}

	if w := do(t, h, "POST", "/admin/listings", `{"schedule": [{"start_time": "bad"}]}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad listing status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "dvr.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	srv := New(s, nil, 1, 2)
	h := srv.Handler()

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		w := do(t, h, "GET", "/healthz", "")
		codes[w.Code]++
	}
	if codes[http.StatusTooManyRequests] == 0 {
		t.Errorf("no requests limited: %v", codes)
	}
	if codes[http.StatusOK] == 0 {
		t.Errorf("all requests limited: %v", codes)
	}
}

func TestAdminViews(t *testing.T) {
	_, s, h := newServer(t)
	seedRecording(t, s, 1)
	if err := s.AttachTranscoded(context.Background(), 1, 1, "/video/1.mp4", store.TranscodeFailed); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, "GET", "/admin/transcodeFailures", "")
	var failures struct {
		Failures []struct {
			RecordingID int64 `json:"recording_id"`
		} `json:"failures"`
	}
	decode(t, w, &failures)
	if len(failures.Failures) != 1 || failures.Failures[0].RecordingID != 1 {
		t.Errorf("failures = %+v", failures.Failures)
	}

	if w := do(t, h, "GET", "/admin/inconsistencies", ""); w.Code != http.StatusOK {
		t.Errorf("inconsistencies status = %d", w.Code)
	}
	if w := do(t, h, "POST", "/admin/testRecording", ""); w.Code != http.StatusCreated {
		t.Errorf("test recording status = %d: %s", w.Code, w.Body.String())
	}
}
