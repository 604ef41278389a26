package handler

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/remiblancher/qkeystore/internal/api/dto"
	apierrors "github.com/remiblancher/qkeystore/internal/api/errors"
	"github.com/remiblancher/qkeystore/internal/api/service"
)

// Media types of the enrollment exchange.
const (
	ContentTypeRequest  = "application/pkcs-crmf"
	ContentTypeResponse = "application/pkcs-crmf-response"
)

// Response headers describing a processed enrollment.
const (
	HeaderRequestID = "X-Enroll-Request-Id"
	HeaderStrategy  = "X-Enroll-Strategy"
	HeaderEncrypted = "X-Enroll-Encrypted"
)

// EnrollHandler handles the DER enrollment endpoint.
type EnrollHandler struct {
	service *service.EnrollService
}

// NewEnrollHandler creates a new EnrollHandler.
func NewEnrollHandler(enrollService *service.EnrollService) *EnrollHandler {
	return &EnrollHandler{service: enrollService}
}

// Enroll handles POST /api/v1/enroll
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || (mt != ContentTypeRequest && mt != "application/octet-stream") {
			respondError(w, http.StatusUnsupportedMediaType, &dto.APIError{
				Code:    apierrors.CodeUnsupportedMedia,
				Message: "Expected " + ContentTypeRequest,
			})
			return
		}
	}

	der, err := io.ReadAll(r.Body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if len(der) == 0 {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Request body is empty"))
		return
	}

	res, err := h.service.Enroll(r.Context(), der)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", ContentTypeResponse)
	w.Header().Set(HeaderRequestID, strconv.FormatInt(res.RequestID, 10))
	w.Header().Set(HeaderStrategy, res.Strategy.String())
	w.Header().Set(HeaderEncrypted, strconv.FormatBool(res.Encrypted))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Response)
}
