package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// Stub collaborators for local runs: the messaging bridge (/api/send,
// /api/download/{id}) and the connector service (/api/add-connection).
// Point MESSAGING_BRIDGE_URL and CONNECTOR_URL at this process.
//
// Behaviour can be steered per request:
//   - recipients ending in "0000" are rejected as invalid numbers
//   - profile URLs containing "checkpoint" report a security checkpoint
//   - STUB_FAIL_RATE=N makes every Nth call answer 503
func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  WARNING: This is a STUB collaborator for local testing.  ║")
	log.Println("║  Messages are NOT sent and connections are NOT requested. ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	s := &stub{failEvery: envInt("STUB_FAIL_RATE")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "orchestrator-stub-api",
			"warning": "THIS IS A STUB - nothing is delivered",
		})
	})
	mux.HandleFunc("POST /api/send", s.send)
	mux.HandleFunc("GET /api/download/{id}", s.download)
	mux.HandleFunc("POST /api/add-connection", s.addConnection)

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Stub API listening on %s", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	log.Println("Stub API stopped")
}

type stub struct {
	calls     int64
	failEvery int
}

func (s *stub) unavailable() bool {
	n := atomic.AddInt64(&s.calls, 1)
	return s.failEvery > 0 && n%int64(s.failEvery) == 0
}

func (s *stub) send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Recipient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "recipient and message are required"})
		return
	}
	if s.unavailable() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"success": false, "error": "bridge busy"})
		return
	}
	if strings.HasSuffix(req.Recipient, "0000") {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    false,
			"error":      "recipient is not reachable",
			"error_code": "invalid_number",
		})
		return
	}
	log.Printf("[stub] send to ***%s (%d chars)", tail(req.Recipient, 2), len(req.Message))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "queued"})
}

func (s *stub) download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if strings.HasPrefix(id, "missing") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such attachment"})
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("stub attachment " + id))
}

func (s *stub) addConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileURL string `json:"profile_url"`
		Name       string `json:"name"`
		Message    string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProfileURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "profile_url is required"})
		return
	}
	if s.unavailable() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"success": false, "message": "browser session unavailable"})
		return
	}
	if strings.Contains(req.ProfileURL, "checkpoint") {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    false,
			"checkpoint": true,
			"message":    "security checkpoint: verify it's you",
		})
		return
	}
	log.Printf("[stub] connection request for %s", req.Name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "invitation sent"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func envInt(key string) int {
	var n int
	for _, c := range os.Getenv(key) {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
