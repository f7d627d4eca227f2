package service

import (
	"sort"
	"time"

	"github.com/noah-isme/academic-requests-api/internal/models"
)

// CountByState returns a count for every lifecycle state, zero-filled.
func CountByState(requests []models.Request) map[models.RequestState]int {
	counts := make(map[models.RequestState]int, len(models.RequestStates))
	for _, state := range models.RequestStates {
		counts[state] = 0
	}
	for _, req := range requests {
		counts[req.State]++
	}
	return counts
}

// CountByPriority returns a count for every priority plus models.PriorityUnset
// for requests not yet prioritized, so the values always sum to len(requests).
func CountByPriority(requests []models.Request) map[models.Priority]int {
	counts := make(map[models.Priority]int, len(models.Priorities)+1)
	for _, p := range models.Priorities {
		counts[p] = 0
	}
	counts[models.PriorityUnset] = 0
	for _, req := range requests {
		if req.Priority == nil {
			counts[models.PriorityUnset]++
			continue
		}
		counts[*req.Priority]++
	}
	return counts
}

// MostRecent returns up to n requests by creation time descending, ties broken
// by id descending. The input slice is left untouched.
func MostRecent(requests []models.Request, n int) []models.Request {
	if n <= 0 || len(requests) == 0 {
		return []models.Request{}
	}
	sorted := append([]models.Request(nil), requests...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// FilterRequests returns the requests matching every criterion in filter.
func FilterRequests(requests []models.Request, filter models.RequestFilter) []models.Request {
	result := make([]models.Request, 0, len(requests))
	for _, req := range requests {
		if filter.Matches(req) {
			result = append(result, req)
		}
	}
	return result
}

// Summarize builds the dashboard projection.
func Summarize(requests []models.Request, recent int, now time.Time) models.RequestSummary {
	unassigned := 0
	for _, req := range requests {
		if req.ResponsibleID == nil && !req.State.Terminal() {
			unassigned++
		}
	}
	return models.RequestSummary{
		Total:       len(requests),
		ByState:     CountByState(requests),
		ByPriority:  CountByPriority(requests),
		Unassigned:  unassigned,
		MostRecent:  MostRecent(requests, recent),
		GeneratedAt: now.UTC(),
	}
}
