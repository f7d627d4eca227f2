package models

import "time"

// RequestSummary is the projection served to dashboards.
type RequestSummary struct {
	Total       int                  `json:"total"`
	ByState     map[RequestState]int `json:"byState"`
	ByPriority  map[Priority]int     `json:"byPriority"`
	Unassigned  int                  `json:"unassigned"`
	MostRecent  []Request            `json:"mostRecent"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

// ExportFormat enumerates supported export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)
