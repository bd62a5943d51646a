package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/keybridge/internal/service"
)

// ServerHandler manages the registry of remote sharing servers.
type ServerHandler struct {
	svc    *service.RegistryService
	logger *slog.Logger
}

func NewServerHandler(svc *service.RegistryService, logger *slog.Logger) *ServerHandler {
	return &ServerHandler{svc: svc, logger: logger}
}

type addServerRequest struct {
	URL         string `json:"url" validate:"required,http_url"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

func (h *ServerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	servers, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "", servers)
}

func (h *ServerHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	srv, err := h.svc.Add(r.Context(), req.URL, req.Description)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, "server added", srv)
}

func (h *ServerHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	srv, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "", srv)
}

func (h *ServerHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, "server removed", nil)
}
