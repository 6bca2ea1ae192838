package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencal/calpanel/internal/debug"
	"github.com/opencal/calpanel/internal/logic/panel"
)

// PanelAPI is the part of the control loop the web page may touch.
type PanelAPI interface {
	Status() panel.Status
	Submit(panel.Command) bool
}

// ConfigView holds the configured defaults shown on the page.
type ConfigView struct {
	SpeedRPM     int    `json:"speed_rpm"`
	MaxSpeedRPM  int    `json:"max_speed_rpm"`
	ScalePercent int    `json:"scale_percent"`
	MinScale     int    `json:"min_scale_percent"`
	Camera       string `json:"camera"`
	MountPoint   string `json:"mount_point"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *LogBroadcaster
	Panel       PanelAPI
	Defaults    ConfigView

	staticFS fs.FS
	upgrader websocket.Upgrader
	// push is how often websocket clients are checked for a new snapshot.
	push time.Duration
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *LogBroadcaster, p PanelAPI, defaults ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Panel:       p,
		Defaults:    defaults,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			// The page is served from the printer itself on the local network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		push: 250 * time.Millisecond,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the configured defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Defaults)
}

// HandleStatus returns the current panel snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Panel == nil {
		http.Error(w, "panel not running", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Panel.Status())
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStop queues a stop of the running print. The control loop runs
// the stop sequence on its next tick.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Panel == nil {
		http.Error(w, "panel not running", http.StatusServiceUnavailable)
		return
	}
	if st := h.Panel.Status(); !st.Running && st.State == "idle" {
		http.Error(w, "no print running", http.StatusConflict)
		return
	}
	if !h.Panel.Submit(panel.CommandStop) {
		http.Error(w, "panel busy", http.StatusServiceUnavailable)
		return
	}
	h.Broadcaster.Broadcast("info", "Stop requested from web")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleWS upgrades to a websocket and pushes the panel snapshot whenever
// it changes.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.Panel == nil {
		http.Error(w, "panel not running", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(1024)
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					debug.Verbose("web: websocket read: %v", err)
				}
				return
			}
		}
	}()

	push := time.NewTicker(h.push)
	defer push.Stop()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	var last *panel.Status
	send := func() error {
		st := h.Panel.Status()
		if last != nil && reflect.DeepEqual(*last, st) {
			return nil
		}
		last = &st
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(st)
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-push.C:
			if err := send(); err != nil {
				debug.Verbose("web: websocket write: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
