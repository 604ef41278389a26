// Package service provides business logic for the REST API.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/remiblancher/qkeystore/internal/crmf"
	"github.com/remiblancher/qkeystore/internal/metrics"
)

// EnrollService answers DER enrollment requests and records their outcome.
type EnrollService struct {
	responder *crmf.Responder
	metrics   *metrics.Metrics
}

// NewEnrollService creates a new EnrollService. m may be nil.
func NewEnrollService(responder *crmf.Responder, m *metrics.Metrics) *EnrollService {
	return &EnrollService{responder: responder, metrics: m}
}

// EnrollResult is the DER response and what the server learned about the request.
type EnrollResult struct {
	Response  []byte
	RequestID int64
	Strategy  crmf.Strategy
	Encrypted bool
}

// Enroll verifies the DER request and returns the DER response.
func (s *EnrollService) Enroll(ctx context.Context, der []byte) (*EnrollResult, error) {
	start := time.Now()
	out, req, err := s.responder.HandleDER(ctx, der)

	var strategy string
	if req != nil {
		strategy = req.POP().Strategy.String()
	}
	s.metrics.ObserveEnrollment(strategy, outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return &EnrollResult{
		Response:  out,
		RequestID: req.ID(),
		Strategy:  req.POP().Strategy,
		Encrypted: s.responder.EncryptResponse,
	}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeIssued
	case errors.Is(err, crmf.ErrMacMismatch),
		errors.Is(err, crmf.ErrInvalidProof),
		errors.Is(err, crmf.ErrSubjectMismatch),
		errors.Is(err, crmf.ErrUnsupportedKeyCapability),
		errors.Is(err, crmf.ErrMalformedEncoding):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
