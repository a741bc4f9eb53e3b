package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Stands in for the fault store, the ticketing system, and the notification
// gateway during local development. State lives in memory and is lost on
// restart.

type alarmRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type maintenanceWindow struct {
	ID            string    `json:"id"`
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	SuppressTypes []string  `json:"suppress_types,omitempty"`
}

type store struct {
	mu       sync.Mutex
	alarms   map[string]json.RawMessage
	open     map[string]bool
	groups   []json.RawMessage
	sla      []json.RawMessage
	breaches []json.RawMessage
	windows  []maintenanceWindow
}

func main() {
	s := &store{
		alarms: make(map[string]json.RawMessage),
		open:   make(map[string]bool),
	}
	var ticketSeq atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/v1/alarms", func(w http.ResponseWriter, r *http.Request) {
		var rec alarmRecord
		raw, ok := decodeRaw(w, r, &rec)
		if !ok {
			return
		}
		s.mu.Lock()
		s.alarms[rec.ID] = raw
		s.open[rec.ID] = rec.Status == "open" || rec.Status == "acknowledged" || rec.Status == "suppressed"
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /api/v1/alarms", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		out := make([]json.RawMessage, 0, len(s.alarms))
		for id, raw := range s.alarms {
			if r.URL.Query().Get("status") == "open" && !s.open[id] {
				continue
			}
			out = append(out, raw)
		}
		s.mu.Unlock()
		writeJSON(w, map[string]any{"alarms": out})
	})

	mux.HandleFunc("POST /api/v1/groups", appendRaw(&s.mu, &s.groups))
	mux.HandleFunc("POST /api/v1/sla/instances", appendRaw(&s.mu, &s.sla))
	mux.HandleFunc("POST /api/v1/sla/breaches", appendRaw(&s.mu, &s.breaches))

	mux.HandleFunc("GET /api/v1/maintenance", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		windows := append([]maintenanceWindow(nil), s.windows...)
		s.mu.Unlock()
		writeJSON(w, map[string]any{"windows": windows})
	})
	mux.HandleFunc("POST /api/v1/maintenance", func(w http.ResponseWriter, r *http.Request) {
		var win maintenanceWindow
		if _, ok := decodeRaw(w, r, &win); !ok {
			return
		}
		s.mu.Lock()
		s.windows = append(s.windows, win)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("POST /api/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if _, ok := decodeRaw(w, r, &req); !ok {
			return
		}
		ref := fmt.Sprintf("TCK-%05d", ticketSeq.Add(1))
		log.Printf("ticket %s opened for alarm %v breach %v", ref, req["alarm_id"], req["breach_id"])
		writeJSON(w, map[string]string{"ticket_ref": ref})
	})

	mux.HandleFunc("POST /api/v1/notify", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if _, ok := decodeRaw(w, r, &req); !ok {
			return
		}
		log.Printf("notification: %v", req["message"])
		w.WriteHeader(http.StatusOK)
	})

	logger := log.New(log.Writer(), "collaborators-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func appendRaw(mu *sync.Mutex, dst *[]json.RawMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		raw, ok := decodeRaw(w, r, &payload)
		if !ok {
			return
		}
		mu.Lock()
		*dst = append(*dst, raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func decodeRaw(w http.ResponseWriter, r *http.Request, out any) (json.RawMessage, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return raw, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
