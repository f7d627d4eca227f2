package service

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
)

type historyStore interface {
	Exists(ctx context.Context, id int64) (bool, error)
	ListHistory(ctx context.Context, requestID int64) ([]models.HistoryEntry, error)
}

// HistoryService reads the append-only audit trail of requests.
type HistoryService struct {
	repo   historyStore
	logger *zap.Logger
}

// NewHistoryService constructs the service.
func NewHistoryService(repo historyStore, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{repo: repo, logger: logger}
}

// ListFor returns the history of a request, oldest first. The sequence is
// finite and may be ranged over any number of times.
func (s *HistoryService) ListFor(ctx context.Context, requestID int64) (iter.Seq[models.HistoryEntry], error) {
	exists, err := s.repo.Exists(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	entries, err := s.repo.ListHistory(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return historySeq(nil), nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request history")
	}
	return historySeq(entries), nil
}

// Collect drains a history sequence into a slice.
func Collect(seq iter.Seq[models.HistoryEntry]) []models.HistoryEntry {
	entries := make([]models.HistoryEntry, 0)
	for entry := range seq {
		entries = append(entries, entry)
	}
	return entries
}

// historySeq orders a private copy of entries and yields copies, so consumers
// can never reach the stored records.
func historySeq(entries []models.HistoryEntry) iter.Seq[models.HistoryEntry] {
	ordered := append([]models.HistoryEntry(nil), entries...)
	sortHistory(ordered)
	return func(yield func(models.HistoryEntry) bool) {
		for _, entry := range ordered {
			if entry.Remarks != nil {
				remarks := *entry.Remarks
				entry.Remarks = &remarks
			}
			if entry.ActorID != nil {
				actor := *entry.ActorID
				entry.ActorID = &actor
			}
			if !yield(entry) {
				return
			}
		}
	}
}

func sortHistory(entries []models.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].OccurredAt.Before(entries[j].OccurredAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// newHistoryEntry builds the single audit record written by a mutation.
func newHistoryEntry(actorID *int64, action string, remarks *string) *models.HistoryEntry {
	entry := &models.HistoryEntry{ActorID: actorID, Action: action}
	if remarks != nil {
		if trimmed := strings.TrimSpace(*remarks); trimmed != "" {
			entry.Remarks = &trimmed
		}
	}
	return entry
}
