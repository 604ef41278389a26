package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/remiblancher/qkeystore/internal/api/dto"
	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/keystore"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

const defaultPageSize = 100

// KeyStoreService exposes read-only views of the keystore.
type KeyStoreService struct {
	ks *keystore.KeyStore
}

// NewKeyStoreService creates a new KeyStoreService.
func NewKeyStoreService(ks *keystore.KeyStore) *KeyStoreService {
	return &KeyStoreService{ks: ks}
}

// List returns the entries whose alias starts with the pagination filter.
func (s *KeyStoreService) List(ctx context.Context, pagination *dto.PaginationRequest) (*dto.AliasListResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pagination == nil {
		pagination = &dto.PaginationRequest{}
	}
	limit := pagination.Limit
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}
	offset := max(pagination.Offset, 0)

	var aliases []string
	for _, alias := range s.ks.Aliases() {
		if strings.HasPrefix(alias, pagination.Filter) {
			aliases = append(aliases, alias)
		}
	}

	resp := &dto.AliasListResponse{
		Entries: []dto.EntryInfo{},
		Pagination: dto.PaginationResponse{
			Total:  len(aliases),
			Limit:  limit,
			Offset: offset,
		},
	}
	if offset >= len(aliases) {
		return resp, nil
	}
	end := min(offset+limit, len(aliases))
	for _, alias := range aliases[offset:end] {
		info, err := s.Get(ctx, alias)
		if err != nil {
			// Deleted since Aliases was read.
			resp.Pagination.Total--
			continue
		}
		resp.Entries = append(resp.Entries, *info)
	}
	resp.Pagination.HasMore = end < len(aliases)
	return resp, nil
}

// Get describes the entry stored under alias.
func (s *KeyStoreService) Get(ctx context.Context, alias string) (*dto.EntryInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.ks.Entry(alias)
	if err != nil {
		return nil, err
	}
	info := &dto.EntryInfo{Alias: alias, Kind: entry.Kind().String()}
	switch e := entry.(type) {
	case *keystore.PrivateKeyEntry:
		info.Algorithm = string(e.Algorithm)
	case *keystore.SymmetricKey:
		info.Algorithm = e.Algorithm
	}
	if len(entry.CertificateKeys()) > 0 {
		chain, err := s.ks.CertificateChain(alias)
		if err != nil {
			return nil, err
		}
		for _, c := range chain {
			info.Chain = append(info.Chain, CertificateInfo(c))
		}
	}
	return info, nil
}

// TrustAnchors lists the certificates stored as trusted.
func (s *KeyStoreService) TrustAnchors(ctx context.Context) (*dto.TrustAnchorListResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := &dto.TrustAnchorListResponse{Anchors: []dto.CertificateInfo{}}
	for _, c := range s.ks.TrustAnchors() {
		resp.Anchors = append(resp.Anchors, CertificateInfo(c))
	}
	return resp, nil
}

// CertificateInfo converts a certificate to its DTO.
func CertificateInfo(c *certificate.Certificate) dto.CertificateInfo {
	subject, err := x509util.CanonicalName(c.RawSubject())
	if err != nil {
		subject = c.Subject().String()
	}
	issuer, err := x509util.CanonicalName(c.RawIssuer())
	if err != nil {
		issuer = hex.EncodeToString(c.RawIssuer())
	}
	sum := sha256.Sum256(c.Raw())
	return dto.CertificateInfo{
		Subject:      subject,
		Issuer:       issuer,
		SerialNumber: c.SerialNumber().Text(16),
		Validity: dto.ValidityInfo{
			NotBefore: c.NotBefore().UTC().Format(time.RFC3339),
			NotAfter:  c.NotAfter().UTC().Format(time.RFC3339),
		},
		Usage:       c.Usage().String(),
		IsCA:        c.CA().IsCA,
		Fingerprint: hex.EncodeToString(sum[:]),
	}
}
