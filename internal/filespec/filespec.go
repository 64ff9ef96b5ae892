// Package filespec expands the path and command templates that place
// recordings on disk. Templates use brace placeholders: {recordingID},
// {videoFile}, {framesPerSecond}, {imageDir}.
package filespec

import (
	"strconv"
	"strings"
)

// Vars holds the substitution values for one expansion.
type Vars struct {
	RecordingID     int64
	VideoFile       string
	FramesPerSecond string
	ImageDir        string
}

// Expand substitutes every placeholder in template from v.
func Expand(template string, v Vars) string {
	r := strings.NewReplacer(
		"{recordingID}", strconv.FormatInt(v.RecordingID, 10),
		"{videoFile}", v.VideoFile,
		"{framesPerSecond}", v.FramesPerSecond,
		"{imageDir}", v.ImageDir,
	)
	return r.Replace(template)
}

// Paths bundles the output-path templates, each keyed on {recordingID}.
type Paths struct {
	RawVideo        string
	CaptureLog      string
	TranscodedVideo string
	Bif             string
	ImageDir        string
}

func (p Paths) RawVideoPath(id int64) string        { return Expand(p.RawVideo, Vars{RecordingID: id}) }
func (p Paths) CaptureLogPath(id int64) string      { return Expand(p.CaptureLog, Vars{RecordingID: id}) }
func (p Paths) TranscodedVideoPath(id int64) string { return Expand(p.TranscodedVideo, Vars{RecordingID: id}) }
func (p Paths) BifPath(id int64) string             { return Expand(p.Bif, Vars{RecordingID: id}) }
func (p Paths) ImageDirPath(id int64) string        { return Expand(p.ImageDir, Vars{RecordingID: id}) }
