// Package server exposes the picking session to the terminal UI over
// HTTP. It is a thin translation layer: every route maps onto one
// session or client operation and the JSON shapes the UI renders.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/binho-transportes/picking/client"
	"github.com/binho-transportes/picking/manifest"
	"github.com/binho-transportes/picking/session"
)

// WebServer handles HTTP requests from the picking UI.
type WebServer struct {
	session   *session.Session
	remote    *client.Client
	httpAddr  string
	server    *http.Server
	logger    *zap.Logger
	startTime time.Time
}

// NewWebServer creates a new web server.
func NewWebServer(sess *session.Session, remote *client.Client, httpPort string, logger *zap.Logger) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		session:  sess,
		remote:   remote,
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		logger:    logger,
		startTime: time.Now(),
	}

	// Register routes
	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/ctrcs", ws.handleListCtrcs)
	mux.HandleFunc("/session", ws.handleSessionStatus)
	mux.HandleFunc("/session/select", ws.handleSelect)
	mux.HandleFunc("/session/scan", ws.handleScan)
	mux.HandleFunc("/session/back", ws.handleBack)
	mux.HandleFunc("/session/complete", ws.handleComplete)
	mux.HandleFunc("/connectivity", ws.handleConnectivity)

	return ws
}

// Start starts the web server.
func (ws *WebServer) Start() error {
	ws.logger.Info("starting web server", zap.String("addr", ws.httpAddr))
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("shutting down web server")
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime": time.Since(ws.startTime).String(),
		"online": ws.remote.Online(),
	})
}

func (ws *WebServer) handleListCtrcs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summaries, err := ws.remote.ListCtrcs(r.Context())
	if err != nil {
		JSONError(w, "Failed to list shipments: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (ws *WebServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m := ws.session.Current()
	if m == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   true,
		"manifest": m,
		"all_done": m.AllDone(),
	})
}

type selectBody struct {
	CTRC string `json:"ctrc"`
}

func (ws *WebServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body selectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "Invalid body format: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if body.CTRC == "" {
		JSONError(w, "ctrc is required", http.StatusBadRequest)
		return
	}

	m, err := ws.session.Select(r.Context(), body.CTRC)
	if err != nil {
		if errors.Is(err, manifest.ErrUnrecognized) {
			JSONError(w, "Shipment has no usable manifest", http.StatusBadGateway)
			return
		}
		JSONError(w, "Failed to select shipment: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type scanBody struct {
	Token string `json:"token"`
}

func (ws *WebServer) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body scanBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "Invalid body format: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if body.Token == "" {
		JSONError(w, "token is required", http.StatusBadRequest)
		return
	}

	res, err := ws.session.Scan(body.Token)
	if err != nil {
		if errors.Is(err, session.ErrNoManifest) {
			JSONError(w, "No shipment selected", http.StatusConflict)
			return
		}
		JSONError(w, "Scan failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	switch res.Outcome {
	case manifest.OutcomeNotFound:
		status = http.StatusNotFound
	case manifest.OutcomeAlreadyComplete:
		status = http.StatusConflict
	}
	// res carries the totals from the scan's own turn; re-reading the
	// session here could observe a concurrent back/complete.
	writeJSON(w, status, map[string]any{
		"outcome": res.Outcome,
		"line":    res.Line,
		"totals":  res.Totals,
	})
}

func (ws *WebServer) handleBack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := ws.session.Back(); err != nil {
		JSONError(w, "Failed to leave picking: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "picking abandoned"})
}

func (ws *WebServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := ws.session.Complete(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoManifest):
			JSONError(w, "No shipment selected", http.StatusConflict)
		case errors.Is(err, session.ErrNotReady):
			JSONError(w, "Not all lines are complete", http.StatusConflict)
		case errors.Is(err, session.ErrCompletionInFlight):
			JSONError(w, "Completion already requested", http.StatusConflict)
		default:
			JSONError(w, "Completion failed: "+err.Error(), http.StatusBadGateway)
		}
		return
	}
	if res.Queued {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
}

type connectivityBody struct {
	Online bool `json:"online"`
}

func (ws *WebServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body connectivityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "Invalid body format: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ws.remote.SetOnline(body.Online)
	remaining := 0
	if body.Online {
		var err error
		remaining, err = ws.remote.Flush(r.Context())
		if err != nil {
			ws.logger.Error("offline queue flush failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":    body.Online,
		"remaining": remaining,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(body)
}

// JSONError sends a JSON formatted error response with the given status
// code and message.
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, struct {
		Error string `json:"error"`
	}{Error: message})
}
