// Package camera records the print through an external capture program.
// Two camera kinds are supported: the Raspberry Pi camera module, driven by
// rpicam-vid, and a USB webcam, driven by ffmpeg over V4L2.
package camera

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Camera kinds accepted by SetType and the camera.type config key.
const (
	TypeNone = "none"
	TypeRPi  = "rpi"
	TypeUSB  = "usb"
)

// ValidType reports whether t names a supported camera kind.
func ValidType(t string) bool {
	switch t {
	case TypeNone, TypeRPi, TypeUSB:
		return true
	}
	return false
}

// OutputPath returns the recording file for a print started at ts.
func OutputPath(dir string, ts time.Time) string {
	return filepath.Join(dir, "print-"+ts.Format("20060102-150405")+".mp4")
}

// Command returns the program and arguments recording to out for the
// given camera kind. index selects /dev/videoN for USB cameras and the
// sensor number for the Pi camera.
func Command(typ string, index int, out string) (string, []string, error) {
	switch typ {
	case TypeRPi:
		return "rpicam-vid", []string{
			"--camera", strconv.Itoa(index),
			"--timeout", "0",
			"--nopreview",
			"--codec", "libav",
			"--output", out,
		}, nil
	case TypeUSB:
		return "ffmpeg", []string{
			"-hide_banner",
			"-loglevel", "error",
			"-f", "v4l2",
			"-i", fmt.Sprintf("/dev/video%d", index),
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-y", out,
		}, nil
	}
	return "", nil, fmt.Errorf("camera: no recorder for type %q", typ)
}
