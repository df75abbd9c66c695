package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/savegress/vitalguard/internal/emergency"
	"github.com/savegress/vitalguard/internal/presenter"
	"github.com/savegress/vitalguard/internal/report"
	"github.com/savegress/vitalguard/internal/vitals"
	"github.com/savegress/vitalguard/pkg/models"
)

const maxBodyBytes = 64 << 10

// CheckResponse is the result of a vitals check
type CheckResponse struct {
	Severity   models.SeverityTier `json:"severity"`
	Actions    []models.ActionType `json:"actions"`
	Findings   []vitals.Finding    `json:"findings"`
	ResponseID string              `json:"responseId,omitempty"`
}

// MonitoringEntry is an active session plus whether a check loop polls it
type MonitoringEntry struct {
	*models.MonitoringSession
	Polling bool `json:"polling"`
}

// Health check
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "vitalguard",
		"time":    s.now().UTC(),
	}
	if s.hub != nil {
		body["websocket"] = s.hub.GetStats()
	}
	if s.pool != nil {
		body["dispatch"] = s.pool.Stats()
		if s.pool.IsClosed() {
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
		}
	}
	respondJSON(w, status, body)
}

// Vitals handlers

func (s *Server) checkVitals(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body")
		return
	}

	result := vitals.ParseSnapshot(body, s.now().UTC())
	if !result.OK() {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    http.StatusText(http.StatusBadRequest),
			"code":     "INVALID_INPUT",
			"message":  result.Err().Error(),
			"problems": result.Problems,
		})
		return
	}

	findings := s.engine.Evaluate(result.Snapshot)
	if findings == nil {
		findings = []vitals.Finding{}
	}
	tier, ok := vitals.Worst(findings)
	if !ok {
		tier = models.SeverityNormal
	}

	out := CheckResponse{
		Severity: tier,
		Actions:  actionTypes(emergency.GenerateActions(tier)),
		Findings: findings,
	}

	if result.UserID != "" {
		resp, err := s.scheduler.Push(r.Context(), result.UserID, result.Snapshot)
		if err != nil {
			s.handleError(w, err)
			return
		}
		if resp != nil {
			out.ResponseID = resp.ID
		}
	}

	respondJSON(w, http.StatusOK, out)
}

func (s *Server) getEmergencyStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Stats())
}

// Monitoring handlers

func (s *Server) listMonitoring(w http.ResponseWriter, r *http.Request) {
	sessions := s.engine.ActiveSessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UserID < sessions[j].UserID
	})

	entries := make([]MonitoringEntry, 0, len(sessions))
	for _, session := range sessions {
		entries = append(entries, MonitoringEntry{
			MonitoringSession: session,
			Polling:           s.scheduler.Running(session.UserID),
		})
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) startMonitoring(w http.ResponseWriter, r *http.Request) {
	session, err := s.scheduler.Start(chi.URLParam(r, "userId"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	session, err := s.scheduler.Stop(userID)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.presenter.ResetCooldown(userID)
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) getMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.engine.GetMonitoringStatus(chi.URLParam(r, "userId"))
	if !ok {
		s.handleError(w, emergency.ErrNoSuchSession)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// User handlers

func (s *Server) getUserEmergencies(w http.ResponseWriter, r *http.Request) {
	responses := s.engine.GetUserEmergencyResponses(chi.URLParam(r, "userId"))

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l >= 0 && l < len(responses) {
			responses = responses[len(responses)-l:]
		}
	}
	respondJSON(w, http.StatusOK, responses)
}

func (s *Server) exportUserEmergencies(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	data, err := report.EmergencyHistory(userID, s.engine.GetUserEmergencyResponses(userID))
	if err != nil {
		s.logger.Error("export failed", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "Failed to build export")
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(userID, s.now())+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) getDialogState(w http.ResponseWriter, r *http.Request) {
	state, _ := s.presenter.DialogState(chi.URLParam(r, "userId"))
	respondJSON(w, http.StatusOK, state)
}

// Emergency handlers

func (s *Server) getEmergency(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.engine.GetEmergencyResponse(chi.URLParam(r, "id"))
	if !ok {
		s.handleError(w, emergency.ErrNoSuchResponse)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) acknowledgeEmergency(w http.ResponseWriter, r *http.Request) {
	resp, err := s.presenter.Acknowledge(r.URL.Query().Get("userId"), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) resolveEmergency(w http.ResponseWriter, r *http.Request) {
	resp, err := s.presenter.Resolve(r.URL.Query().Get("userId"), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) executeAction(w http.ResponseWriter, r *http.Request) {
	action := models.ActionType(chi.URLParam(r, "type"))
	if !action.Valid() {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Unknown action type")
		return
	}

	resp, err := s.presenter.ExecuteAction(r.URL.Query().Get("userId"), chi.URLParam(r, "id"), action)
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Helper functions

func (s *Server) handleError(w http.ResponseWriter, err error) {
	var engineErr *emergency.Error
	switch {
	case errors.As(err, &engineErr):
		respondError(w, statusFor(engineErr), engineErr.Code, engineErr.Message)
	case errors.Is(err, presenter.ErrResponseMismatch):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, vitals.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "Internal error")
	}
}

func statusFor(err *emergency.Error) int {
	switch err {
	case emergency.ErrAlreadyMonitoring, emergency.ErrInvalidTransition:
		return http.StatusConflict
	case emergency.ErrNoSuchSession, emergency.ErrNoSuchResponse, emergency.ErrNoSuchAction:
		return http.StatusNotFound
	case emergency.ErrMissingUser:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func actionTypes(actions []models.EmergencyAction) []models.ActionType {
	out := make([]models.ActionType, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Type)
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"code":    code,
		"message": message,
	})
}
