package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/keybridge/internal/service"
)

// ShareHandler publishes session snapshots and reads host sessions.
type ShareHandler struct {
	svc    *service.ShareService
	logger *slog.Logger
}

func NewShareHandler(svc *service.ShareService, logger *slog.Logger) *ShareHandler {
	return &ShareHandler{svc: svc, logger: logger}
}

type shareRequest struct {
	SessionID int64  `json:"session_id" validate:"required,gt=0"`
	Key       string `json:"key" validate:"required"`
}

type shareResponse struct {
	ReferenceID   string `json:"referenceId,omitempty"`
	SessionID     int64  `json:"sessionId"`
	Key           string `json:"key"`
	AnalysisCount int    `json:"analysisCount"`
	Server        any    `json:"server,omitempty"`
}

// HandleShare uploads a session snapshot under an active key.
//
// HTTP: POST /api/analysis {"session_id": 3, "key": "..."}
func (h *ShareHandler) HandleShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.svc.Share(r.Context(), req.SessionID, req.Key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	env := Envelope{
		Status:  statusSuccess,
		Message: "analysis shared",
		Data: shareResponse{
			ReferenceID:   res.Receipt.ReferenceID,
			SessionID:     res.Snapshot.SessionID,
			Key:           res.Snapshot.Key,
			AnalysisCount: res.Snapshot.AnalysisCount,
			Server:        res.Receipt.Raw,
		},
	}
	if res.Key != nil {
		env.Local = res.Key.Local
		env.ServerError = failure(res.Key.ServerError)
	}
	writeJSON(w, http.StatusCreated, env)
}

// HandlePreview returns the snapshot that would be shared, without sending it.
//
// HTTP: GET /api/analysis/preview/{sessionID}?key=...
func (h *ShareHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathInt(r, "sessionID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	snap, err := h.svc.Preview(r.Context(), sessionID, r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "", snap.Document)
}

// HandleLookup fetches an already shared analysis from the remote server.
//
// HTTP: GET /api/analysis/key/{key}
func (h *ShareHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.LookupAnalysis(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: statusSuccess, Server: out})
}

// HandleSessions lists every session the host application recorded.
//
// HTTP: GET /api/sessions
func (h *ShareHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "", sessions)
}
