package panel

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
	"github.com/opencal/calpanel/internal/logic/menu"
	"github.com/opencal/calpanel/internal/logic/printjob"
	"github.com/opencal/calpanel/internal/store"
)

// Camera kinds offered under "change camera".
var cameraTypes = []string{"rpi", "usb"}

func (p *Panel) buildMenus() *menu.Submenu {
	p.print = menu.NewSubmenu("print",
		&menu.Action{Name: "stop", Invoke: p.stopPrint},
	)
	p.calib = menu.NewSubmenu("calibration",
		&menu.Action{Name: "stop", Invoke: p.stopCalibration},
	)

	usb := menu.NewDynamic("Print from USB", p.fileItems, menu.BackItem())

	manual := menu.NewSubmenu("Manual Control",
		menu.BackItem(),
		&menu.Action{Name: "Turn on LEDs", Invoke: func() error {
			return p.deps.Light.Set(p.opts.LightColor, capability.All)
		}},
		&menu.Action{Name: "Turn off LEDs", Invoke: p.deps.Light.Clear},
		&menu.Action{Name: "start stepper", Invoke: func() error {
			return p.deps.Motion.StartRotation(p.opts.Direction)
		}},
		&menu.Action{Name: "stop stepper", Invoke: p.deps.Motion.Stop},
	)

	settingsItems := []menu.Node{
		menu.BackItem(),
		&menu.Action{Name: "save as default", Invoke: p.saveDefaults},
		p.scaleTrigger("Resize Print", ""),
		p.speedTrigger("Set Step RPM", "", nil),
	}
	if p.deps.Images != nil && p.opts.CalibrationImage != "" {
		settingsItems = append(settingsItems,
			&menu.Action{Name: "Calibration img", Invoke: p.showCalibration})
	}
	if p.deps.Camera != nil {
		cams := []menu.Node{menu.BackItem()}
		for _, t := range cameraTypes {
			t := t
			cams = append(cams, &menu.Action{Name: t, Invoke: func() error {
				return p.changeCamera(t)
			}})
		}
		settingsItems = append(settingsItems, menu.NewSubmenu("change camera", cams...))
	}
	settings := menu.NewSubmenu("Settings", settingsItems...)

	power := menu.NewSubmenu("Power Options",
		menu.BackItem(),
		&menu.Action{Name: "Kill GUI", Invoke: func() error {
			p.Kill()
			return nil
		}},
	)

	return menu.NewSubmenu("main", usb, manual, settings, power)
}

// fileItems lists the videos on the stick; choosing one asks for the
// rotation speed and then starts the print.
func (p *Panel) fileItems() ([]menu.Node, error) {
	names, err := p.deps.Catalog.ListNames()
	if err != nil {
		return nil, err
	}
	items := make([]menu.Node, 0, len(names))
	for _, name := range names {
		name := name
		items = append(items, p.speedTrigger(name, name, func() *menu.Submenu {
			return p.startPrint(name)
		}))
	}
	return items, nil
}

func (p *Panel) speedTrigger(label, caption string, then func() *menu.Submenu) *menu.VariableTrigger {
	t := &menu.VariableTrigger{
		Name:     label,
		Variable: "RPM",
		Get:      p.deps.Motion.Speed,
		Set:      p.deps.Motion.SetSpeed,
		Floor:    menu.Int(1),
		Caption:  caption,
		Then:     then,
	}
	if p.opts.MaxSpeed > 0 {
		t.Ceiling = menu.Int(p.opts.MaxSpeed)
	}
	return t
}

func (p *Panel) scaleTrigger(label, caption string) *menu.VariableTrigger {
	return &menu.VariableTrigger{
		Name:         label,
		Variable:     "size %",
		Get:          p.deps.Projector.Scale,
		Set:          p.deps.Projector.Resize,
		Floor:        menu.Int(p.opts.MinScale),
		FloorWarning: fmt.Sprintf("Cannot go below %d", p.opts.MinScale),
		Caption:      caption,
	}
}

func (p *Panel) startPrint(name string) *menu.Submenu {
	path, err := p.deps.Catalog.Resolve(name)
	if err != nil {
		debug.Error(err)
		p.splash("File not found")
		return nil
	}
	if err := p.deps.Jobs.Start(path); err != nil {
		debug.Error(err)
		if errors.Is(err, printjob.ErrJobActive) {
			p.splash("Already printing")
			return p.print
		}
		p.splash("Print failed")
		return nil
	}
	p.wasRunning = true
	debug.Info("print: %s at %d rpm, %d%%", name, p.deps.Motion.Speed(), p.deps.Projector.Scale())
	return p.print
}

func (p *Panel) stopPrint() error {
	start, running := p.deps.Jobs.StartTime()
	err := p.deps.Jobs.Stop()
	p.wasRunning = false
	if running {
		debug.Info("print: stopped by operator after %s", humanize.RelTime(start, p.now(), "", ""))
	}
	if rerr := p.nav.ShowRoot(); err == nil {
		err = rerr
	}
	return err
}

func (p *Panel) showCalibration() error {
	if err := p.deps.Images.ShowImage(p.opts.CalibrationImage); err != nil {
		return err
	}
	return p.nav.Show(p.calib)
}

func (p *Panel) stopCalibration() error {
	err := p.deps.Projector.Stop()
	if rerr := p.nav.ShowRoot(); err == nil {
		err = rerr
	}
	return err
}

func (p *Panel) changeCamera(t string) error {
	if err := p.deps.Camera.SetType(t); err != nil {
		return err
	}
	p.splash("Camera: " + t)
	return nil
}

func (p *Panel) saveDefaults() error {
	if p.deps.Saver == nil {
		return errors.New("panel: no settings store")
	}
	d := store.Defaults{
		SpeedRPM:     p.deps.Motion.Speed(),
		ScalePercent: p.deps.Projector.Scale(),
	}
	if p.deps.Camera != nil {
		d.CameraType = p.deps.Camera.Type()
	}
	if err := p.deps.Saver.Save(d); err != nil {
		return err
	}
	p.splash("Saved")
	return nil
}
