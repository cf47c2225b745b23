// Package energylivetest provides an in-process energyLIVE API for tests.
package energylivetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/berfenger/energylive2mqtt/pkg/energylive"
)

type device struct {
	details  energylive.DeviceDetails
	channels []string
	lines    chan string
}

// Server answers the device, details, measurements and live endpoints for
// the devices added to it. Lines pushed to a device are written to its open
// live stream.
type Server struct {
	*httptest.Server

	apiKey  string
	mu      sync.Mutex
	order   []string
	devices map[string]*device
	opens   map[string]int
}

func NewServer(apiKey string) *Server {
	s := &Server{
		apiKey:  apiKey,
		devices: make(map[string]*device),
		opens:   make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Server) AddDevice(id, deviceType, serial string, channels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, id)
	s.devices[id] = &device{
		details:  energylive.DeviceDetails{Type: deviceType, Serial: serial},
		channels: channels,
		lines:    make(chan string, 64),
	}
}

// Push queues a raw live stream line, e.g. `data: {"measurement":"x","value":1}`.
func (s *Server) Push(id, line string) {
	s.mu.Lock()
	dev := s.devices[id]
	s.mu.Unlock()
	if dev != nil {
		dev.lines <- line
	}
}

// LiveOpens is the number of live streams opened for a device so far.
func (s *Server) LiveOpens(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[id]
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(energylive.APIKeyHeader) != s.apiKey {
		http.Error(w, "invalid api key", http.StatusForbidden)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 || parts[0] != "devices" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		s.mu.Lock()
		ids := append([]string(nil), s.order...)
		s.mu.Unlock()
		writeJSON(w, ids)
		return
	}

	s.mu.Lock()
	dev := s.devices[parts[1]]
	s.mu.Unlock()
	if dev == nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 2:
		writeJSON(w, dev.details)
	case len(parts) == 3 && parts[2] == "measurements":
		writeJSON(w, dev.channels)
	case len(parts) == 4 && parts[2] == "measurements" && parts[3] == "live":
		s.mu.Lock()
		s.opens[parts[1]]++
		s.mu.Unlock()
		s.live(w, r, dev)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) live(w http.ResponseWriter, r *http.Request, dev *device) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line := <-dev.lines:
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
