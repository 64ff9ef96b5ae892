package filespec

import "testing"

func TestExpand(t *testing.T) {
	got := Expand("transcode {videoFile} -r {framesPerSecond} -o {imageDir}/{recordingID}", Vars{
		RecordingID:     42,
		VideoFile:       "/video/42.mp4",
		FramesPerSecond: "0.1",
		ImageDir:        "/tmp/frames",
	})
	want := "transcode /video/42.mp4 -r 0.1 -o /tmp/frames/42"
	if got != want {
		t.Errorf("Expand = %q, want %q", got, want)
	}
}

func TestExpand_unsetVarsExpandEmpty(t *testing.T) {
	got := Expand("{videoFile} {recordingID}", Vars{RecordingID: 7})
	if got != " 7" {
		t.Errorf("Expand = %q", got)
	}
}

func TestPaths(t *testing.T) {
	p := Paths{
		RawVideo:        "/video/raw/{recordingID}.ts",
		CaptureLog:      "/video/raw/{recordingID}.log",
		TranscodedVideo: "/video/{recordingID}.mp4",
		Bif:             "/video/{recordingID}.bif",
		ImageDir:        "/video/frames/{recordingID}",
	}
	if got := p.RawVideoPath(3); got != "/video/raw/3.ts" {
		t.Errorf("RawVideoPath = %q", got)
	}
	if got := p.CaptureLogPath(3); got != "/video/raw/3.log" {
		t.Errorf("CaptureLogPath = %q", got)
	}
	if got := p.TranscodedVideoPath(3); got != "/video/3.mp4" {
		t.Errorf("TranscodedVideoPath = %q", got)
	}
	if got := p.BifPath(3); got != "/video/3.bif" {
		t.Errorf("BifPath = %q", got)
	}
	if got := p.ImageDirPath(3); got != "/video/frames/3" {
		t.Errorf("ImageDirPath = %q", got)
	}
}
