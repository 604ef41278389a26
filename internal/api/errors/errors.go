// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/remiblancher/qkeystore/internal/api/dto"
	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/crmf"
	"github.com/remiblancher/qkeystore/internal/keystore"
)

// Error codes for API responses.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMalformed          = "MALFORMED_ENCODING"
	CodeUnsupportedKey     = "UNSUPPORTED_KEY_CAPABILITY"
	CodeInvalidProof       = "INVALID_PROOF"
	CodeSubjectMismatch    = "SUBJECT_MISMATCH"
	CodeMACMismatch        = "MAC_MISMATCH"
	CodeChainVerify        = "CHAIN_VERIFICATION_FAILED"
	CodeCertExpired        = "CERT_EXPIRED"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeUnsupportedMedia   = "UNSUPPORTED_MEDIA_TYPE"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// MapError maps an internal error to an HTTP status code and APIError.
// Proof and MAC rejections do not echo the underlying cause.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	var details map[string]string
	var enrollErr *crmf.EnrollError
	if errors.As(err, &enrollErr) && enrollErr.RequestID != 0 {
		details = map[string]string{
			"operation":  enrollErr.Op,
			"request_id": strconv.FormatInt(enrollErr.RequestID, 10),
		}
	}

	switch {
	case errors.Is(err, crmf.ErrMacMismatch):
		return http.StatusUnauthorized, &dto.APIError{
			Code:    CodeMACMismatch,
			Message: "Request authentication failed",
			Details: details,
		}
	case errors.Is(err, crmf.ErrSubjectMismatch):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeSubjectMismatch,
			Message: "Wrapped key subject does not match the request",
			Details: details,
		}
	case errors.Is(err, crmf.ErrInvalidProof):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeInvalidProof,
			Message: "Proof of possession did not verify",
			Details: details,
		}
	case errors.Is(err, crmf.ErrUnsupportedKeyCapability):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeUnsupportedKey,
			Message: err.Error(),
			Details: details,
		}
	case errors.Is(err, certificate.ErrMalformedEncoding):
		return http.StatusBadRequest, &dto.APIError{
			Code:    CodeMalformed,
			Message: err.Error(),
			Details: details,
		}
	case errors.Is(err, certificate.ErrInvalidChain):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeChainVerify,
			Message: err.Error(),
			Details: details,
		}
	case errors.Is(err, certificate.ErrExpired):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeCertExpired,
			Message: err.Error(),
			Details: details,
		}
	case errors.Is(err, keystore.ErrNotFound):
		return http.StatusNotFound, &dto.APIError{
			Code:    CodeNotFound,
			Message: err.Error(),
			Details: details,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, &dto.APIError{
			Code:    CodeServiceUnavailable,
			Message: "Request canceled",
			Details: details,
		}
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, &dto.APIError{
			Code:    CodeRequestTooLarge,
			Message: "Request body exceeds " + strconv.FormatInt(maxErr.Limit, 10) + " bytes",
		}
	}

	// Default internal error
	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
		Details: details,
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewNotFound creates a not found error.
func NewNotFound(resource, id string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeNotFound,
		Message: resource + " not found",
		Details: map[string]string{"id": id},
	}
}
