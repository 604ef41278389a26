package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/qkeystore/internal/api/dto"
	apierrors "github.com/remiblancher/qkeystore/internal/api/errors"
	"github.com/remiblancher/qkeystore/internal/api/service"
	"github.com/remiblancher/qkeystore/internal/keystore"
)

// KeyStoreHandler handles read-only keystore endpoints.
type KeyStoreHandler struct {
	service *service.KeyStoreService
}

// NewKeyStoreHandler creates a new KeyStoreHandler.
func NewKeyStoreHandler(ksService *service.KeyStoreService) *KeyStoreHandler {
	return &KeyStoreHandler{service: ksService}
}

// List handles GET /api/v1/keystore/aliases
func (h *KeyStoreHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context(), parsePagination(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/keystore/aliases/{alias}
func (h *KeyStoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	if alias == "" {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Alias is required"))
		return
	}
	resp, err := h.service.Get(r.Context(), alias)
	if errors.Is(err, keystore.ErrNotFound) {
		respondError(w, http.StatusNotFound, apierrors.NewNotFound("Alias", alias))
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Anchors handles GET /api/v1/keystore/anchors
func (h *KeyStoreHandler) Anchors(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.TrustAnchors(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func parsePagination(r *http.Request) *dto.PaginationRequest {
	q := r.URL.Query()
	pagination := &dto.PaginationRequest{}

	if limit := q.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			pagination.Limit = l
		}
	}

	if offset := q.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			pagination.Offset = o
		}
	}

	pagination.Filter = q.Get("filter")

	return pagination
}
