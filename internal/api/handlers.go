package api

import (
	"errors"
	"net/http"

	"github.com/chanpod/agent-sessions-sub001/internal/review"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	ProjectPath string   `json:"projectPath"`
	Files       []string `json:"files"`
	SessionID   string   `json:"sessionId,omitempty"`
}

type startResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.ProjectPath == "" {
		writeError(w, http.StatusBadRequest, "projectPath is required")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}

	sessionID, err := s.svc.Start(r.Context(), req.ProjectPath, req.Files, req.SessionID)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Success: true, SessionID: sessionID})
}

type lowRiskRequest struct {
	SessionID     string   `json:"sessionId"`
	LowRiskFiles  []string `json:"lowRiskFiles"`
	HighRiskFiles []string `json:"highRiskFiles"`
}

type lowRiskResponse struct {
	Success      bool `json:"success"`
	FindingCount int  `json:"findingCount"`
}

func (s *Server) handleLowRisk(w http.ResponseWriter, r *http.Request) {
	var req lowRiskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	count, err := s.svc.StartLowRisk(r.Context(), req.SessionID, req.LowRiskFiles, req.HighRiskFiles)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lowRiskResponse{Success: true, FindingCount: count})
}

type advanceRequest struct {
	SessionID string `json:"sessionId"`
}

type advanceResponse struct {
	Success      bool `json:"success"`
	Complete     bool `json:"complete"`
	FindingCount int  `json:"findingCount"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	complete, count, err := s.svc.AdvanceHighRisk(r.Context(), req.SessionID)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{Success: true, Complete: complete, FindingCount: count})
}

type cancelRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	// Cancel succeeds whether or not the session still existed.
	s.svc.Cancel(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type fingerprintsRequest struct {
	ProjectPath string   `json:"projectPath"`
	Files       []string `json:"files"`
}

type fingerprintsResponse struct {
	Success      bool              `json:"success"`
	Fingerprints map[string]string `json:"fingerprints"`
}

func (s *Server) handleFingerprints(w http.ResponseWriter, r *http.Request) {
	var req fingerprintsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.ProjectPath == "" {
		writeError(w, http.StatusBadRequest, "projectPath is required")
		return
	}

	fingerprints, err := s.svc.ComputeFingerprints(req.ProjectPath, req.Files)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fingerprintsResponse{Success: true, Fingerprints: fingerprints})
}

type invalidateRequest struct {
	ProjectPath string   `json:"projectPath"`
	Files       []string `json:"files"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.ProjectPath == "" {
		writeError(w, http.StatusBadRequest, "projectPath is required")
		return
	}

	s.svc.InvalidateFiles(req.ProjectPath, req.Files)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeReviewError(w http.ResponseWriter, err error) {
	if errors.Is(err, review.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
