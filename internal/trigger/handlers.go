package trigger

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/record"
	"github.com/xkilldash9x/rosterfill/internal/store"
)

// CommandRequest is the body of POST /api/v1/command.
type CommandRequest struct {
	Command string `json:"command"`
	CSV     string `json:"csv,omitempty"`
}

// CommandResponse is the envelope of every command answer.
type CommandResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FillResult is the data of a start_filling answer.
type FillResult struct {
	Reports   []*fill.Report `json:"reports"`
	Completed bool           `json:"completed"`
}

// PingResult is the data of a ping answer.
type PingResult struct {
	Message string `json:"message"`
	Time    string `json:"time"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	s.logger.Info("Received command", zap.String("command", req.Command))

	switch strings.ToLower(req.Command) {
	case "start_filling":
		s.handleStartFilling(w, r)
	case "store_csv":
		s.handleStoreCSV(w, r, req.CSV)
	case "clear_storage":
		s.handleClearStorage(w, r)
	case "ping":
		s.respond(w, http.StatusOK, true, PingResult{Message: "pong", Time: s.now().UTC().Format(time.RFC3339)}, "")
	default:
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (s *Server) handleStartFilling(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runJob(r.Context())
	if errors.Is(err, ErrBusy) || fill.IsBusy(err) {
		s.respondWithError(w, http.StatusConflict, err.Error())
		return
	}

	result := FillResult{}
	success := err == nil
	if summary != nil {
		result.Reports = summary.Reports
		result.Completed = summary.Completed
		for _, rep := range summary.Reports {
			success = success && rep.Success()
		}
	}

	errMsg := ""
	if err != nil {
		s.logger.Error("Fill failed", zap.Error(err))
		errMsg = err.Error()
	}
	s.respond(w, http.StatusOK, success, result, errMsg)
}

// handleStoreCSV validates and saves the text, then starts a fill with it. Nothing is
// saved while a fill is running.
func (s *Server) handleStoreCSV(w http.ResponseWriter, r *http.Request, raw string) {
	table, err := record.Parse(raw, s.parse...)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.reserve(); err != nil {
		s.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	started := false
	defer func() {
		if !started {
			s.release()
		}
	}()

	// Unsaved knobs stay nil so the configured delay and logging still apply.
	current, err := s.settings.Settings(r.Context())
	if err != nil && !errors.Is(err, store.ErrNoSettings) {
		s.logger.Error("Failed to load settings", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	current.CSV = raw
	if err := s.settings.SaveSettings(r.Context(), current); err != nil {
		s.logger.Error("Failed to save settings", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	s.logger.Info("CSV stored", zap.Int("records", table.Len()))

	started = true
	s.startJob()
	s.respond(w, http.StatusAccepted, true, map[string]int{"records": table.Len()}, "")
}

func (s *Server) handleClearStorage(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.Clear(r.Context()); err != nil {
		s.logger.Error("Failed to clear storage", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "failed to clear storage")
		return
	}
	s.respond(w, http.StatusOK, true, nil, "")
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respond(w, statusCode, false, nil, message)
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, success bool, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := CommandResponse{Success: success, Data: data, Error: errMsg}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
