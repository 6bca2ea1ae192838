// Package capability defines the hardware contracts consumed by the panel
// core. Implementations live under internal/hw; the core never looks them up
// from global state, they are handed to constructors.
package capability

// Direction is a rotation sense for the rotation stage.
type Direction string

const (
	Clockwise        Direction = "CW"
	CounterClockwise Direction = "CCW"
)

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

// Selector picks a subset of the illumination array. The zero value selects
// every LED.
type Selector struct {
	Ring string
}

// All selects the whole illumination array.
var All = Selector{}

// Motion drives the rotation stage.
type Motion interface {
	StartRotation(dir Direction) error
	Stop() error
	SetSpeed(rpm int) error
	Speed() int
}

// Illumination drives the LED array.
type Illumination interface {
	Set(c Color, sel Selector) error
	Clear() error
}

// Display is a character display addressed by row.
type Display interface {
	Clear() error
	WriteLine(text string, row int) error
}

// InputDevice is a rotary encoder with a push button.
type InputDevice interface {
	Position() int
	ButtonPressed() bool
}

// ProjectorPlayback loops a video on the projector.
type ProjectorPlayback interface {
	Play(videoRef string, scalePercent int) error
	Stop() error
	Resize(scalePercent int) error
	Scale() int
}

// PlaybackWatcher is implemented by playback backends that can report the
// natural end of the media. Done returns nil when nothing is playing.
type PlaybackWatcher interface {
	Done() <-chan struct{}
}

// ImageProjector shows a still image, used for calibration.
type ImageProjector interface {
	ShowImage(path string) error
}

// CameraRecorder records the print. It is optional: a nil CameraRecorder
// means no camera is attached.
type CameraRecorder interface {
	StartRecording() error
	StopRecording() error
}

// CameraSwitcher is implemented by recorders that support several camera
// backends.
type CameraSwitcher interface {
	SetType(t string) error
	Type() string
}

// FileCatalog lists printable videos.
type FileCatalog interface {
	ListNames() ([]string, error)
	Resolve(label string) (string, error)
}
