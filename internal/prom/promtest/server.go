// Package promtest serves a minimal fake of the Prometheus HTTP API.
package promtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Series is one labelled sample in a vector result.
type Series struct {
	Labels map[string]string
	Value  float64
}

// Server is a fake Prometheus. Queries without a registered result return
// an empty vector; failing queries return a bad_data error.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	results  map[string][]Series
	failing  map[string]bool
	targets  int
	delay    time.Duration
	healthy  atomic.Bool
	queries  atomic.Int64
	probes   atomic.Int64
	received []string
}

// NewServer starts a healthy fake with no results and one active target.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		results: make(map[string][]Series),
		failing: make(map[string]bool),
		targets: 1,
	}
	s.healthy.Store(true)
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// SetResult registers the vector returned for query.
func (s *Server) SetResult(query string, series ...Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[query] = series
	delete(s.failing, query)
}

// Fail makes query return an API error.
func (s *Server) Fail(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[query] = true
}

// SetTargets sets the number of active scrape targets.
func (s *Server) SetTargets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = n
}

// SetDelay holds every instant query for d, or until the client gives up.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetHealthy toggles the health endpoint.
func (s *Server) SetHealthy(ok bool) { s.healthy.Store(ok) }

// Queries returns how many instant queries were served.
func (s *Server) Queries() int64 { return s.queries.Load() }

// Probes returns how many health probes were served.
func (s *Server) Probes() int64 { return s.probes.Load() }

// Received returns the queries in arrival order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/-/healthy":
		s.probes.Add(1)
		if !s.healthy.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "Prometheus Server is Healthy.")
	case "/api/v1/query":
		s.queries.Add(1)
		s.mu.Lock()
		delay := s.delay
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		_ = r.ParseForm()
		s.query(w, r.Form.Get("query"))
	case "/api/v1/targets":
		s.mu.Lock()
		n := s.targets
		s.mu.Unlock()
		active := make([]map[string]any, n)
		for i := range active {
			active[i] = map[string]any{
				"labels":    map[string]string{"job": fmt.Sprintf("job-%d", i)},
				"scrapeUrl": fmt.Sprintf("http://10.0.0.%d:8080/metrics", i+1),
				"health":    "up",
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data":   map[string]any{"activeTargets": active, "droppedTargets": []any{}},
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) query(w http.ResponseWriter, q string) {
	s.mu.Lock()
	s.received = append(s.received, q)
	series, failing := s.results[q], s.failing[q]
	s.mu.Unlock()

	if failing {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":    "error",
			"errorType": "bad_data",
			"error":     "query failed",
		})
		return
	}

	now := float64(time.Now().Unix())
	result := make([]map[string]any, 0, len(series))
	for _, ser := range series {
		labels := ser.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		result = append(result, map[string]any{
			"metric": labels,
			"value":  []any{now, fmt.Sprintf("%g", ser.Value)},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]any{"resultType": "vector", "result": result},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
