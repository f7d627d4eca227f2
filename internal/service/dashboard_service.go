package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
)

const dashboardCachePattern = "dashboard:*"

type requestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL    time.Duration
	RecentLimit int
}

// DashboardService composes request summaries for dashboards.
type DashboardService struct {
	requests requestLister
	cache    *CacheService
	logger   *zap.Logger
	now      func() time.Time
	cfg      DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(requests requestLister, cache *CacheService, cfg DashboardServiceConfig, logger *zap.Logger) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = defaultRecentLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{requests: requests, cache: cache, logger: logger, now: time.Now, cfg: cfg}
}

// Summary returns counts by state and priority plus the most recent requests
// for the requests matching query. The bool reports a cache hit.
func (s *DashboardService) Summary(ctx context.Context, query dto.RequestQuery) (*models.RequestSummary, bool, error) {
	filter, err := ParseRequestFilter(query)
	if err != nil {
		return nil, false, err
	}
	key := dashboardCacheKey(filter)
	if s.cache != nil {
		var cached models.RequestSummary
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("dashboard cache read failed, recomputing", zap.String("key", key), zap.Error(err))
		} else if hit {
			return &cached, true, nil
		}
	}

	all, err := s.requests.List(ctx, models.RequestFilter{})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requests")
	}
	summary := Summarize(FilterRequests(all, filter), s.cfg.RecentLimit, s.now())

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return &summary, false, nil
}

func dashboardCacheKey(filter models.RequestFilter) string {
	parts := []string{"dashboard", "summary"}
	if filter.State != nil {
		parts = append(parts, "state="+string(*filter.State))
	}
	if filter.Type != nil {
		parts = append(parts, "type="+string(*filter.Type))
	}
	if filter.Priority != nil {
		parts = append(parts, "priority="+string(*filter.Priority))
	}
	if filter.ResponsibleID != nil {
		parts = append(parts, fmt.Sprintf("responsible=%d", *filter.ResponsibleID))
	}
	if filter.RequesterID != nil {
		parts = append(parts, fmt.Sprintf("requester=%d", *filter.RequesterID))
	}
	return strings.Join(parts, ":")
}
