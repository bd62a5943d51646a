package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/service"
)

// KeyHandler exposes the analysis key lifecycle.
type KeyHandler struct {
	svc    *service.KeyService
	logger *slog.Logger
}

func NewKeyHandler(svc *service.KeyService, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{svc: svc, logger: logger}
}

type requestKeyRequest struct {
	SessionID int64 `json:"session_id" validate:"required,gt=0"`
}

// HandleRequest returns the active key for a session, issuing one remotely
// when needed.
//
// HTTP: POST /api/key/request {"session_id": 3}
// 201 with status "success" for a new key, 200 with status "exists" otherwise.
func (h *KeyHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req requestKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.svc.RequestKey(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status, message := http.StatusCreated, "analysis key issued"
	if res.Status == service.RequestStatusExists {
		status, message = http.StatusOK, "active analysis key already exists for this session"
	}
	writeJSON(w, status, Envelope{
		Status:  res.Status,
		Message: message,
		Local:   res.Local,
		Server:  res.Server,
	})
}

type createKeyRequest struct {
	Key        string         `json:"key" validate:"required"`
	SessionID  int64          `json:"session_id" validate:"required,gt=0"`
	UserID     int64          `json:"user_id" validate:"required,gt=0"`
	KeyID      *int64         `json:"key_id,omitempty"`
	AnalysisID *int64         `json:"analysis_id,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Metadata   model.Metadata `json:"metadata,omitempty"`
}

// HandleCreate stores a key the caller already holds.
//
// HTTP: POST /api/key
func (h *KeyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	k, err := h.svc.CreateKey(r.Context(), service.CreateKeyInput{
		Key:         req.Key,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		RemoteKeyID: req.KeyID,
		AnalysisID:  req.AnalysisID,
		ExpiresAt:   req.ExpiresAt,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusCreated, "analysis key created", k)
}

// HandleGet returns one key with the remote view merged in.
//
// HTTP: GET /api/key/{key}
func (h *KeyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.FetchKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeView(w, view)
}

// HandleListForUser returns a user's keys, newest first.
//
// HTTP: GET /api/key/{userID}
func (h *KeyHandler) HandleListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	view, err := h.svc.FetchKeysForUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{
		Status:      statusSuccess,
		Local:       view.Local,
		Server:      view.Server,
		ServerError: failure(view.ServerError),
	})
}

type updateKeyRequest struct {
	Status   string         `json:"status,omitempty" validate:"omitempty,keystatus"`
	Metadata model.Metadata `json:"metadata,omitempty"`
}

// HandleUpdate changes a key's status and/or metadata.
//
// HTTP: PUT /api/key/{key} {"status": "used", "metadata": {...}}
func (h *KeyHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	in := service.UpdateKeyInput{Metadata: req.Metadata}
	if req.Status != "" {
		st := model.KeyStatus(req.Status)
		in.Status = &st
	}

	k, err := h.svc.UpdateKey(r.Context(), chi.URLParam(r, "key"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, "analysis key updated", k)
}

// HandleDelete removes a key from the local store.
//
// HTTP: DELETE /api/key/{key}
func (h *KeyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteKey(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "analysis key deleted", nil)
}

// HandleMarkUsed consumes a key locally and tells the remote server.
//
// HTTP: PATCH /api/key/use/{key}
// The local change is reported as success even when the remote call failed;
// the failure is in "serverError".
func (h *KeyHandler) HandleMarkUsed(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.MarkUsed(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeView(w, view)
}

// HandleCleanup deletes expired keys.
//
// HTTP: POST /api/keys/cleanup
func (h *KeyHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "expired keys removed", map[string]int64{"deleted": n})
}

// HandleDeactivateForAnalysis makes every key of an analysis inactive.
//
// HTTP: POST /api/analysis/{analysisID}/deactivate-keys
func (h *KeyHandler) HandleDeactivateForAnalysis(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathInt(r, "analysisID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	n, err := h.svc.DeactivateForAnalysis(r.Context(), analysisID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "keys deactivated", map[string]int64{"deactivated": n})
}

// HandleListForAnalysis returns the keys created for an analysis.
//
// HTTP: GET /api/analysis/{analysisID}/keys
func (h *KeyHandler) HandleListForAnalysis(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathInt(r, "analysisID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	keys, err := h.svc.ListKeysForAnalysis(r.Context(), analysisID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "", keys)
}

func writeView(w http.ResponseWriter, view *service.KeyView) {
	writeJSON(w, http.StatusOK, Envelope{
		Status:      statusSuccess,
		Local:       view.Local,
		Server:      view.Server,
		ServerError: failure(view.ServerError),
	})
}

// failure keeps a nil *RemoteFailure from turning into a non-nil interface,
// which omitempty would not drop.
func failure(f *service.RemoteFailure) any {
	if f == nil {
		return nil
	}
	return f
}

func pathInt(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a positive integer")
	}
	return n, nil
}
