package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (job start/stop, commits)
	LevelLive    = 2 // Live info (menu selections, actuator commands)
	LevelVerbose = 3 // Verbose (configuration, render details)
	LevelTrace   = 4 // Trace (GPIO, I2C, SPI, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	logger *log.Logger
	out    io.Writer = os.Stdout

	tagInfo    = color.New(color.FgCyan).SprintFunc()
	tagLive    = color.New(color.FgGreen).SprintFunc()
	tagVerbose = color.New(color.FgBlue).SprintFunc()
	tagTrace   = color.New(color.Faint).SprintFunc()
	tagWarn    = color.New(color.FgYellow).SprintFunc()
	tagError   = color.New(color.FgRed, color.Bold).SprintFunc()
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (job lifecycle, committed settings)
// 2 = live info (menu selections, actuator commands)
// 3 = verbose (configuration dumps, menu rendering)
// 4 = trace (GPIO, bus writes)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = log.New(out, "[CAL] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects debug output, e.g. to a file in simulator mode or a
// tee towards the web status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func emit(minLevel int, tag, format string, args ...interface{}) {
	mu.RLock()
	l, lg := level, logger
	mu.RUnlock()
	if l < minLevel || lg == nil {
		return
	}
	lg.Printf(tag+" "+format, args...)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	emit(LevelInfo, tagInfo("[INFO]"), format, args...)
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	emit(LevelInfo, tagWarn("[WARN]"), format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	emit(LevelInfo, "═══", "%s", title)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	emit(LevelInfo, tagInfo("[INFO]"), "  %s = %v", name, value)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	emit(LevelLive, tagLive("[LIVE]"), format, args...)
}

// Actuator prints an actuator command (level 2).
func Actuator(name, command string) {
	emit(LevelLive, tagLive("[LIVE]"), "%s: %s", name, command)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	emit(LevelVerbose, tagVerbose("[VERBOSE]"), format, args...)
}

// Printf is an alias for Verbose for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	emit(LevelVerbose, tagVerbose("[VERBOSE]"), "%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	emit(LevelVerbose, "━━━", "%s", name)
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, tagVerbose("[VERBOSE]"), "Step %d: %s", num, description)
}

// Table prints aligned name/value rows under a title (level 3).
func Table(title string, rows [][2]string) {
	if !IsEnabled(LevelVerbose) {
		return
	}
	tbl := uitable.New()
	tbl.MaxColWidth = 60
	tbl.Separator = "  "
	for _, r := range rows {
		tbl.AddRow(r[0], r[1])
	}
	emit(LevelVerbose, tagVerbose("[VERBOSE]"), "%s\n%s", title, tbl.String())
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	emit(LevelTrace, tagTrace("[TRACE]"), format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	emit(LevelTrace, tagTrace("[GPIO]"), "%s pin=%d value=%v", operation, pin, value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if err == nil {
		return
	}
	emit(LevelInfo, tagError("[ERROR]"), "%v", err)
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
