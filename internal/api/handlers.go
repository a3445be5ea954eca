package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/tag"
)

// rebootDelay lets the reboot response reach the client first.
const rebootDelay = 500 * time.Millisecond

// ConfigResponse is returned by GET /api/config.
type ConfigResponse struct {
	URL        string `json:"url"`
	Registered bool   `json:"registered"`
}

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

// ResultResponse is the firmware UI's success envelope.
type ResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.deps.Version})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	c := s.deps.Credentials.Current()
	writeJSON(w, http.StatusOK, ConfigResponse{URL: c.BackendURL, Registered: c.Registered})
}

// handleRegister queues a registration and waits for the dispatcher to
// run it. The URL is stored by the dispatcher even when the code is
// rejected.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ResultResponse{Error: "Invalid JSON"})
		return
	}
	if req.Code == "" {
		writeJSON(w, http.StatusBadRequest, ResultResponse{Error: "code is required"})
		return
	}

	apiReq := dispatch.Register(req.URL, req.Code)
	if !s.deps.Queue.Enqueue(apiReq) {
		writeUnavailable(w, "request queue full")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RegisterTimeout)
	defer cancel()

	select {
	case err := <-apiReq.Reply:
		if err != nil {
			s.logger.Warn("registration failed", "error", err)
			writeJSON(w, http.StatusBadRequest, ResultResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, ResultResponse{Success: true})
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, ResultResponse{Error: "registration timed out"})
	}
}

// handleRfidWrite starts writing the posted JSON to the next tag. A body
// with a spool_id is a spool tag; anything else is a location tag. The
// outcome is reported to the backend once the tag driver finishes.
func (s *Server) handleRfidWrite(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !gjson.ParseBytes(body).IsObject() {
		writeBadRequest(w, "Invalid JSON")
		return
	}

	if s.deps.Tags.Writing() {
		writeUnavailable(w, "NFC busy")
		return
	}

	p := tag.Payload{Data: body}
	spoolField := gjson.GetBytes(body, "spool_id")
	req := tag.WriteRequest{
		SpoolTag:     spoolField.Exists() && spoolField.Type != gjson.Null,
		Payload:      body,
		SpoolID:      idString(spoolField),
		LocationID:   idString(gjson.GetBytes(body, "location_id")),
		ReportResult: true,
	}
	if req.SpoolID == "" {
		req.SpoolID = p.SpoolID()
	}

	if err := s.deps.Tags.BeginWrite(req); err != nil {
		if errors.Is(err, tag.ErrTagBusy) {
			writeUnavailable(w, "NFC busy")
			return
		}
		s.logger.Warn("tag write not started", "error", err)
		writeUnavailable(w, "NFC unavailable")
		return
	}

	writeJSON(w, http.StatusOK, ResultResponse{
		Success: true,
		Message: "Write started. Hold the tag on the reader.",
	})
}

// idString returns a numeric or string id, or "" for zero and absent ids.
func idString(r gjson.Result) string {
	switch r.Type {
	case gjson.Number, gjson.String:
		if v := r.String(); v != "" && v != "0" {
			return v
		}
	}
	return ""
}

func (s *Server) handleReboot(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Restarter == nil {
		writeUnavailable(w, "reboot not supported")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebooting"})

	time.AfterFunc(rebootDelay, func() {
		if err := s.deps.Restarter.Restart(context.Background(), "requested from web UI"); err != nil {
			s.logger.Error("reboot failed", "error", err)
		}
	})
}
