package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// StepperConfig holds the configuration for the rotation stage stepper.
type StepperConfig struct {
	StepPin          int    `yaml:"step_pin"`
	DirPin           int    `yaml:"dir_pin"`
	EnablePin        int    `yaml:"enable_pin"` // driver ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerRev      int    `yaml:"steps_per_rev"`
	Microstepping    int    `yaml:"microstepping"`
	DefaultSpeedRPM  int    `yaml:"default_speed_rpm"`
	MaxSpeedRPM      int    `yaml:"max_speed_rpm"` // 0 = no ceiling
	DefaultDirection string `yaml:"default_direction"` // "CW" or "CCW"
}

// RotaryConfig describes the rotary encoder and its push button.
type RotaryConfig struct {
	ClkPin   int `yaml:"clk_pin"`
	DtPin    int `yaml:"dt_pin"`
	BtnPin   int `yaml:"btn_pin"`
	MaxSteps int `yaml:"max_steps"` // position wraps within [-max_steps, max_steps]
}

// LCDConfig describes the I2C character display.
type LCDConfig struct {
	Bus     string `yaml:"bus"`     // e.g., "/dev/i2c-1"
	Address int    `yaml:"address"` // PCF8574 backpack address, e.g., 0x27
	Cols    int    `yaml:"cols"`
	Rows    int    `yaml:"rows"`
}

// LEDArrayConfig describes the WS2812 illumination ring.
type LEDArrayConfig struct {
	Device       string           `yaml:"device"` // e.g., "/dev/spidev0.0"
	NumLED       int              `yaml:"num_led"`
	SpeedHz      int              `yaml:"speed_hz"`
	DefaultColor [3]uint8         `yaml:"default_color"`
	RingIndices  map[string][]int `yaml:"ring_indices"`
}

// ProjectorConfig describes the video player used for projection.
type ProjectorConfig struct {
	Player             string `yaml:"player"` // e.g., "mpv"
	DefaultPrintSize   int    `yaml:"default_print_size"` // percent
	MinPrintSize       int    `yaml:"min_print_size"`     // percent, floor for "Resize Print"
	CalibrationImgPath string `yaml:"calibration_img_path"`
	IPCSocket          string `yaml:"ipc_socket"`
}

// CameraConfig selects the recording backend.
// Type is "rpi", "usb", or "none".
type CameraConfig struct {
	Type     string `yaml:"type"`
	Index    int    `yaml:"index"` // /dev/videoN for "usb"
	SavePath string `yaml:"save_path"`
}

// USBConfig locates printable videos.
type USBConfig struct {
	MountPoint string `yaml:"mount_point"`
}

// DefaultsConfig contains generic parameters (timing, debug, etc.).
type DefaultsConfig struct {
	DebugLevel   int    `yaml:"debug_level"`    // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO     bool   `yaml:"mock_gpio"`      // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	LoopPeriodMs int    `yaml:"loop_period_ms"` // control loop period
	DebounceMs   int    `yaml:"debounce_ms"`    // minimum time between actioned button presses
	JobPollMs    int    `yaml:"job_poll_ms"`    // print job worker poll interval
	SplashMs     int    `yaml:"splash_ms"`      // how long one-line messages stay on screen
	StateDir     string `yaml:"state_dir"`      // where "save as default" persists values
}

// Config aggregates all application configuration.
type Config struct {
	Stepper   StepperConfig   `yaml:"stepper"`
	Rotary    RotaryConfig    `yaml:"rotary"`
	LCD       LCDConfig       `yaml:"lcd"`
	LEDArray  LEDArrayConfig  `yaml:"led_array"`
	Projector ProjectorConfig `yaml:"projector"`
	Camera    CameraConfig    `yaml:"camera"`
	USB       USBConfig       `yaml:"usb"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// "configs" directory, after cleaning.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path must not contain '..': %s", path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Stepper
	if cfg.Stepper.StepsPerRev <= 0 {
		cfg.Stepper.StepsPerRev = 200
	}
	if cfg.Stepper.Microstepping <= 0 {
		cfg.Stepper.Microstepping = 1
	}
	if cfg.Stepper.DefaultSpeedRPM <= 0 {
		cfg.Stepper.DefaultSpeedRPM = 20
	}
	if cfg.Stepper.MaxSpeedRPM < 0 {
		return nil, fmt.Errorf("stepper.max_speed_rpm must be >= 0, got %d", cfg.Stepper.MaxSpeedRPM)
	}
	if cfg.Stepper.MaxSpeedRPM > 0 && cfg.Stepper.DefaultSpeedRPM > cfg.Stepper.MaxSpeedRPM {
		return nil, fmt.Errorf("stepper.default_speed_rpm (%d) exceeds max_speed_rpm (%d)",
			cfg.Stepper.DefaultSpeedRPM, cfg.Stepper.MaxSpeedRPM)
	}
	switch cfg.Stepper.DefaultDirection {
	case "":
		cfg.Stepper.DefaultDirection = "CCW"
	case "CW", "CCW":
	default:
		return nil, fmt.Errorf("stepper.default_direction must be CW or CCW, got %q", cfg.Stepper.DefaultDirection)
	}

	// Rotary encoder
	if cfg.Rotary.MaxSteps <= 0 {
		cfg.Rotary.MaxSteps = 1000
	}

	// LCD
	if cfg.LCD.Bus == "" {
		cfg.LCD.Bus = "/dev/i2c-1"
	}
	if cfg.LCD.Address == 0 {
		cfg.LCD.Address = 0x27
	}
	if cfg.LCD.Cols <= 0 {
		cfg.LCD.Cols = 20
	}
	if cfg.LCD.Rows <= 0 {
		cfg.LCD.Rows = 4
	}
	if cfg.LCD.Rows < 4 {
		return nil, fmt.Errorf("lcd.rows must be >= 4, got %d", cfg.LCD.Rows)
	}

	// LED array
	if cfg.LEDArray.Device == "" {
		cfg.LEDArray.Device = "/dev/spidev0.0"
	}
	if cfg.LEDArray.NumLED < 0 {
		return nil, fmt.Errorf("led_array.num_led must be >= 0, got %d", cfg.LEDArray.NumLED)
	}
	if cfg.LEDArray.SpeedHz <= 0 {
		cfg.LEDArray.SpeedHz = 6_400_000 // 8 SPI bits per WS2812 bit at 800kHz
	}
	for ring, idx := range cfg.LEDArray.RingIndices {
		for _, i := range idx {
			if i < 0 || i >= cfg.LEDArray.NumLED {
				return nil, fmt.Errorf("led_array.ring_indices[%s]: index %d out of range 0-%d", ring, i, cfg.LEDArray.NumLED-1)
			}
		}
	}

	// Projector
	if cfg.Projector.Player == "" {
		cfg.Projector.Player = "mpv"
	}
	if cfg.Projector.MinPrintSize <= 0 {
		cfg.Projector.MinPrintSize = 100
	}
	if cfg.Projector.DefaultPrintSize <= 0 {
		cfg.Projector.DefaultPrintSize = cfg.Projector.MinPrintSize
	}
	if cfg.Projector.DefaultPrintSize < cfg.Projector.MinPrintSize {
		return nil, fmt.Errorf("projector.default_print_size (%d) is below min_print_size (%d)",
			cfg.Projector.DefaultPrintSize, cfg.Projector.MinPrintSize)
	}
	if cfg.Projector.IPCSocket == "" {
		cfg.Projector.IPCSocket = filepath.Join(os.TempDir(), "calpanel-mpv.sock")
	}

	// Camera
	switch cfg.Camera.Type {
	case "":
		cfg.Camera.Type = "none"
	case "none", "rpi", "usb":
	default:
		return nil, fmt.Errorf("camera.type must be rpi, usb or none, got %q", cfg.Camera.Type)
	}
	if cfg.Camera.SavePath == "" { // "change camera" may enable recording later
		cfg.Camera.SavePath = "recordings"
	}
	savePath, err := homedir.Expand(cfg.Camera.SavePath)
	if err != nil {
		return nil, fmt.Errorf("expand camera.save_path: %w", err)
	}
	cfg.Camera.SavePath = savePath

	// USB
	if cfg.USB.MountPoint == "" {
		cfg.USB.MountPoint = "/media/opencal"
	}

	// Generic defaults
	if cfg.Defaults.LoopPeriodMs <= 0 {
		cfg.Defaults.LoopPeriodMs = 50
	}
	if cfg.Defaults.DebounceMs <= 0 {
		cfg.Defaults.DebounceMs = 1000
	}
	if cfg.Defaults.JobPollMs <= 0 {
		cfg.Defaults.JobPollMs = 1000
	}
	if cfg.Defaults.SplashMs <= 0 {
		cfg.Defaults.SplashMs = 1200
	}
	if cfg.Defaults.StateDir == "" {
		cfg.Defaults.StateDir = "~/.local/share/calpanel"
	}
	stateDir, err := homedir.Expand(cfg.Defaults.StateDir)
	if err != nil {
		return nil, fmt.Errorf("expand defaults.state_dir: %w", err)
	}
	cfg.Defaults.StateDir = stateDir

	return &cfg, nil
}

// LoopPeriod returns the control loop period.
func (c *Config) LoopPeriod() time.Duration {
	return time.Duration(c.Defaults.LoopPeriodMs) * time.Millisecond
}

// Debounce returns the minimum delay between two actioned button presses.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Defaults.DebounceMs) * time.Millisecond
}

// JobPoll returns the print job worker poll interval.
func (c *Config) JobPoll() time.Duration {
	return time.Duration(c.Defaults.JobPollMs) * time.Millisecond
}

// Splash returns how long one-line messages stay on screen.
func (c *Config) Splash() time.Duration {
	return time.Duration(c.Defaults.SplashMs) * time.Millisecond
}

// MicrostepsPerRev returns the number of STEP pulses per stage revolution.
func (c *Config) MicrostepsPerRev() int {
	return c.Stepper.StepsPerRev * c.Stepper.Microstepping
}
