package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/config"
	"github.com/opencal/calpanel/internal/debug"
	"github.com/opencal/calpanel/internal/hw/camera"
	"github.com/opencal/calpanel/internal/hw/gpio"
	"github.com/opencal/calpanel/internal/hw/lcd"
	"github.com/opencal/calpanel/internal/hw/led"
	"github.com/opencal/calpanel/internal/hw/projector"
	"github.com/opencal/calpanel/internal/hw/rotary"
	"github.com/opencal/calpanel/internal/hw/sim"
	"github.com/opencal/calpanel/internal/hw/stepper"
	"github.com/opencal/calpanel/internal/hw/usb"
	"github.com/opencal/calpanel/internal/logic/panel"
	"github.com/opencal/calpanel/internal/logic/printjob"
	"github.com/opencal/calpanel/internal/store"
	"github.com/opencal/calpanel/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	simMode := flag.Bool("sim", false, "drive the panel from the terminal instead of the LCD and encoder (implies mock GPIO)")
	speedRPM := flag.Int("speed_rpm", 0, "override the rotation speed in RPM")
	scalePercent := flag.Int("scale_percent", 0, "override the print size in percent")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Zero means "use config default".
	if err := validateCLIOverrides(*speedRPM, *scalePercent, cfg.Projector.MinPrintSize, cfg.Stepper.MaxSpeedRPM); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	if *simMode {
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			log.Fatalf("-sim needs an interactive terminal")
		}
		cfg.Defaults.MockGPIO = true
	}

	debug.Init(cfg.Defaults.DebugLevel)
	if *simMode {
		// The terminal belongs to the simulated panel; keep the log out of it.
		logFile, err := os.Create("calpanel-sim.log")
		if err != nil {
			log.Fatalf("open sim log: %v", err)
		}
		defer logFile.Close()
		debug.SetOutput(logFile)
		log.SetOutput(logFile)
	}

	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Saved defaults override the config; CLI overrides win over both.
	settings := store.Open(cfg.Defaults.StateDir)
	saved, err := settings.Load()
	if err != nil {
		debug.Warn("ignoring saved defaults: %v", err)
	}
	defaults := saved.Merge(store.Defaults{
		SpeedRPM:     cfg.Stepper.DefaultSpeedRPM,
		ScalePercent: cfg.Projector.DefaultPrintSize,
		CameraType:   cfg.Camera.Type,
	})
	defaults = applyOverrides(defaults, *speedRPM, *scalePercent)
	if defaults.ScalePercent < cfg.Projector.MinPrintSize {
		defaults.ScalePercent = cfg.Projector.MinPrintSize
	}
	if ceiling := cfg.Stepper.MaxSpeedRPM; ceiling > 0 && defaults.SpeedRPM > ceiling {
		defaults.SpeedRPM = ceiling
	}

	debug.Table("Hardware", [][2]string{
		{"Mock GPIO", strconv.FormatBool(cfg.Defaults.MockGPIO)},
		{"Simulated panel", strconv.FormatBool(*simMode)},
		{"LCD", fmt.Sprintf("%s @0x%02x %dx%d", cfg.LCD.Bus, cfg.LCD.Address, cfg.LCD.Cols, cfg.LCD.Rows)},
		{"LED array", fmt.Sprintf("%s, %d LEDs", cfg.LEDArray.Device, cfg.LEDArray.NumLED)},
		{"Player", cfg.Projector.Player},
		{"Camera", defaults.CameraType},
		{"USB mount", cfg.USB.MountPoint},
		{"Speed", fmt.Sprintf("%d RPM", defaults.SpeedRPM)},
		{"Print size", fmt.Sprintf("%d%%", defaults.ScalePercent)},
	})

	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing stepper motor")
	direction := capability.Direction(cfg.Stepper.DefaultDirection)
	motor := stepper.NewStepper(gpioDriver, stepper.Config{
		StepPin:          cfg.Stepper.StepPin,
		DirPin:           cfg.Stepper.DirPin,
		EnablePin:        cfg.Stepper.EnablePin,
		StepsPerRev:      cfg.Stepper.StepsPerRev,
		Microstepping:    cfg.Stepper.Microstepping,
		DefaultRPM:       defaults.SpeedRPM,
		DefaultDirection: direction,
	})
	if err := motor.SetSpeed(defaults.SpeedRPM); err != nil {
		log.Fatalf("init stepper failed: %v", err)
	}
	debug.PrintStruct("Stepper config", cfg.Stepper)

	debug.Step(3, "Initializing display and input")
	var (
		display capability.Display
		input   capability.InputDevice
		light   capability.Illumination
		simUI   *sim.Panel
	)
	if *simMode {
		simUI = sim.NewPanel(cfg.LCD.Cols, cfg.LCD.Rows)
		display, input = simUI, simUI
		light = led.New(io.Discard, cfg.LEDArray.NumLED, cfg.LEDArray.RingIndices)
	} else {
		lcdDisplay, lcdBus, err := lcd.Open(cfg.LCD.Bus, cfg.LCD.Address, cfg.LCD.Cols, cfg.LCD.Rows)
		if err != nil {
			log.Fatalf("init LCD failed: %v", err)
		}
		defer lcdBus.Close()
		display = lcdDisplay

		encoder, err := rotary.NewEncoder(gpioDriver, rotary.Config{
			ClkPin:   cfg.Rotary.ClkPin,
			DtPin:    cfg.Rotary.DtPin,
			BtnPin:   cfg.Rotary.BtnPin,
			MaxSteps: cfg.Rotary.MaxSteps,
		})
		if err != nil {
			log.Fatalf("init rotary encoder failed: %v", err)
		}
		encoder.Start(ctx)
		defer encoder.Close()
		input = encoder

		ring, spi, err := led.Open(cfg.LEDArray.Device, cfg.LEDArray.SpeedHz, cfg.LEDArray.NumLED, cfg.LEDArray.RingIndices)
		if err != nil {
			log.Fatalf("init LED array failed: %v", err)
		}
		defer spi.Close()
		light = ring
	}

	debug.Step(4, "Initializing projector, camera and USB catalog")
	player := projector.NewPlayer(cfg.Projector.Player, cfg.Projector.IPCSocket, defaults.ScalePercent)
	recorder, err := camera.NewRecorder(defaults.CameraType, cfg.Camera.Index, cfg.Camera.SavePath)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	catalog := usb.NewCatalog(cfg.USB.MountPoint)

	ledColor := cfg.LEDArray.DefaultColor
	color := capability.Color{R: ledColor[0], G: ledColor[1], B: ledColor[2]}
	jobs := printjob.New(motor, light, player, recorder, printjob.Config{
		Direction: direction,
		Color:     color,
		Selector:  capability.All,
		Poll:      cfg.JobPoll(),
	})

	debug.Step(5, "Starting control loop")
	p := panel.New(panel.Deps{
		Display:   display,
		Input:     input,
		Motion:    motor,
		Light:     light,
		Projector: player,
		Images:    player,
		Camera:    recorder,
		Catalog:   catalog,
		Saver:     settings,
		Jobs:      jobs,
	}, panel.Options{
		Width:            cfg.LCD.Cols,
		LoopPeriod:       cfg.LoopPeriod(),
		Debounce:         cfg.Debounce(),
		Splash:           cfg.Splash(),
		Direction:        direction,
		LightColor:       color,
		MinScale:         cfg.Projector.MinPrintSize,
		MaxSpeed:         cfg.Stepper.MaxSpeedRPM,
		CalibrationImage: cfg.Projector.CalibrationImgPath,
	})

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewLogBroadcaster()
		if *simMode {
			debug.SetOutput(broadcaster.Writer())
		} else {
			debug.SetOutput(io.MultiWriter(os.Stdout, broadcaster.Writer()))
		}
		srv, err := web.NewServer(webAddr, broadcaster, p, web.ConfigView{
			SpeedRPM:     defaults.SpeedRPM,
			MaxSpeedRPM:  cfg.Stepper.MaxSpeedRPM,
			ScalePercent: defaults.ScalePercent,
			MinScale:     cfg.Projector.MinPrintSize,
			Camera:       defaults.CameraType,
			MountPoint:   cfg.USB.MountPoint,
		})
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("web server: %w", err))
			}
		}()
	}

	if simUI != nil {
		go func() {
			if err := simUI.Run(ctx, cancel); err != nil {
				debug.Error(fmt.Errorf("sim panel: %w", err))
				cancel()
			}
		}()
	}

	if err := p.Run(ctx); err != nil {
		log.Fatalf("panel: %v", err)
	}
	debug.Section("Shutdown complete")
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid
// ranges. Zero values are ignored (they mean "use config default").
func validateCLIOverrides(speedRPM, scalePercent, minScale, maxSpeed int) error {
	if speedRPM != 0 {
		if speedRPM < 1 {
			return fmt.Errorf("speed_rpm must be >= 1, got %d", speedRPM)
		}
		if maxSpeed > 0 && speedRPM > maxSpeed {
			return fmt.Errorf("speed_rpm must be between 1 and %d, got %d", maxSpeed, speedRPM)
		}
	}
	if scalePercent != 0 && scalePercent < minScale {
		return fmt.Errorf("scale_percent must be >= %d, got %d", minScale, scalePercent)
	}
	return nil
}

// applyOverrides returns d with the non-zero CLI values applied.
func applyOverrides(d store.Defaults, speedRPM, scalePercent int) store.Defaults {
	if speedRPM > 0 {
		d.SpeedRPM = speedRPM
	}
	if scalePercent > 0 {
		d.ScalePercent = scalePercent
	}
	return d
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
