package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
database_path: /var/lib/carbondvr/dvr.sqlite
capture_binary: /usr/bin/hdhomerun_config
paths:
  raw_video: /video/raw/{recordingID}.ts
  capture_log: /video/raw/{recordingID}.log
  transcoded_video: /video/{recordingID}.mp4
  bif: /video/{recordingID}.bif
  image_dir: /video/frames/{recordingID}
transcode:
  low: encode-low {videoFile} {recordingID}
  medium: encode-medium {videoFile} {recordingID}
  high: encode-high {videoFile} {recordingID}
  location_id: 1
bif:
  extractor_command: ffmpeg -i {videoFile} -r {framesPerSecond} {imageDir}/%05d.jpg
  location_id: 1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_validWithDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ListenAddr != ":8085" {
		t.Errorf("listen addr default = %q", c.ListenAddr)
	}
	if c.Bif.FrameIntervalMS != 10000 {
		t.Errorf("frame interval default = %d", c.Bif.FrameIntervalMS)
	}
	if c.Schedule.WindowHours != 12 {
		t.Errorf("window default = %d", c.Schedule.WindowHours)
	}
	if c.RateLimit.PerSecond != 20 || c.RateLimit.Burst != 40 {
		t.Errorf("rate limit defaults = %+v", c.RateLimit)
	}
	if got := c.FilePaths().RawVideoPath(7); got != "/video/raw/7.ts" {
		t.Errorf("raw path = %q", got)
	}
	if c.PlanWindow().Hours() != 12 {
		t.Errorf("plan window = %v", c.PlanWindow())
	}
}

func TestLoad_envOverridesFile(t *testing.T) {
	t.Setenv("CARBON_DVR_DB", "/tmp/other.sqlite")
	t.Setenv("CARBON_DVR_LISTEN", ":9000")
	c, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DatabasePath != "/tmp/other.sqlite" {
		t.Errorf("database path = %q, want env value", c.DatabasePath)
	}
	if c.ListenAddr != ":9000" {
		t.Errorf("listen addr = %q, want env value", c.ListenAddr)
	}
}

func TestLoad_missingMandatoryFields(t *testing.T) {
	_, err := Load(writeConfig(t, "listen_addr: :8085\n"))
	if err == nil {
		t.Fatal("Load accepted empty config")
	}
	for _, want := range []string{"database_path", "capture_binary", "paths.raw_video", "transcode.low"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err, want)
		}
	}
}

func TestLoad_templateWithoutPlaceholder(t *testing.T) {
	bad := strings.Replace(validYAML, "/video/raw/{recordingID}.ts", "/video/raw/capture.ts", 1)
	_, err := Load(writeConfig(t, bad))
	if err == nil || !strings.Contains(err.Error(), "{recordingID}") {
		t.Errorf("err = %v, want placeholder complaint", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "# comment\nCARBON_TEST_KEY=\"quoted value\"\n\nBROKEN LINE\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CARBON_TEST_KEY", "")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("CARBON_TEST_KEY"); got != "quoted value" {
		t.Errorf("CARBON_TEST_KEY = %q", got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Errorf("missing env file: %v", err)
	}
}
