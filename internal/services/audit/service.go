// Package audit exposes the read side of the blocking audit log and the
// append entry point used by transitions.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stratumops/quotawarden/internal/store"
)

var ErrServiceUnavailable = errors.New("audit service not configured")

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Store is the persistence surface the service reads and writes.
type Store interface {
	InsertAuditEntry(ctx context.Context, e store.AuditEntry) (uuid.UUID, error)
	SetAuditOutcome(ctx context.Context, id uuid.UUID, policyUpdated, notified bool) error
	ListAuditEntries(ctx context.Context, userID *string, limit, offset int32) ([]store.AuditEntry, error)
	CountAuditEntries(ctx context.Context, userID *string) (int64, error)
}

// Filter scopes a history query.
type Filter struct {
	UserID   string
	Page     int
	PageSize int
}

// Page is one slice of the audit history, newest first.
type Page struct {
	Entries  []store.AuditEntry `json:"entries"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

type Service struct {
	store Store
}

func NewService(st Store) *Service {
	return &Service{store: st}
}

// Append writes one immutable entry. Transition code calls this inside the
// transaction that owns the state write, so a failure here fails the
// transition.
func (s *Service) Append(ctx context.Context, e store.AuditEntry) (uuid.UUID, error) {
	if s == nil || s.store == nil {
		return uuid.Nil, ErrServiceUnavailable
	}
	id, err := s.store.InsertAuditEntry(ctx, e)
	if err != nil {
		return uuid.Nil, fmt.Errorf("append audit entry: %w", err)
	}
	return id, nil
}

// MarkOutcome records the advisory step results on an existing entry.
func (s *Service) MarkOutcome(ctx context.Context, id uuid.UUID, policyUpdated, notified bool) error {
	if s == nil || s.store == nil {
		return ErrServiceUnavailable
	}
	return s.store.SetAuditOutcome(ctx, id, policyUpdated, notified)
}

// History returns a page of entries, newest first, with the total count for
// paging. Page numbers start at 1; unset or oversized page sizes clamp to
// the defaults.
func (s *Service) History(ctx context.Context, filter Filter) (Page, error) {
	if s == nil || s.store == nil {
		return Page{}, ErrServiceUnavailable
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	var userID *string
	if trimmed := strings.TrimSpace(filter.UserID); trimmed != "" {
		userID = &trimmed
	}

	offset := (page - 1) * size
	entries, err := s.store.ListAuditEntries(ctx, userID, int32(size), int32(offset))
	if err != nil {
		return Page{}, fmt.Errorf("list audit entries: %w", err)
	}
	total, err := s.store.CountAuditEntries(ctx, userID)
	if err != nil {
		return Page{}, fmt.Errorf("count audit entries: %w", err)
	}

	return Page{
		Entries:  entries,
		Total:    total,
		Page:     page,
		PageSize: size,
	}, nil
}
