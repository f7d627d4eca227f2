package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
	"github.com/noah-isme/academic-requests-api/pkg/export"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered export ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
	Rows        int
}

// ExportService renders filtered request listings as CSV or PDF.
type ExportService struct {
	requests requestLister
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(requests requestLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = &export.PDFExporter{Widths: map[string]float64{"ID": 12, "State": 24, "Priority": 20, "Channel": 18, "Created": 30}}
	}
	return &ExportService{requests: requests, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

var exportHeaders = []string{"ID", "Title", "Type", "State", "Priority", "Channel", "Requester", "Responsible", "Created", "Deadline"}

// Requests exports the requests matching query in the given format.
func (s *ExportService) Requests(ctx context.Context, query dto.RequestQuery, format models.ExportFormat) (*ExportFile, error) {
	filter, err := ParseRequestFilter(query)
	if err != nil {
		return nil, err
	}
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	dataset := buildRequestDataset(requests)

	stamp := s.now().UTC().Format("20060102_150405")
	file := &ExportFile{Rows: len(requests)}
	switch format {
	case models.ExportFormatCSV:
		file.Payload, err = s.csv.Render(dataset)
		file.ContentType = "text/csv; charset=utf-8"
	case models.ExportFormatPDF:
		file.Payload, err = s.pdf.Render(dataset, "Solicitudes académicas")
		file.ContentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	file.Filename = fmt.Sprintf("requests_%s.%s", stamp, format)
	s.logger.Info("requests exported", zap.String("format", string(format)), zap.Int("rows", file.Rows))
	return file, nil
}

func buildRequestDataset(requests []models.Request) export.Dataset {
	ds := export.Dataset{Headers: exportHeaders}
	for _, req := range requests {
		ds.AddRow(
			strconv.FormatInt(req.ID, 10),
			req.Title,
			labelOrBlank(req.Type),
			req.State.Label(),
			labelOrBlank(req.Priority),
			req.Channel.Label(),
			strconv.FormatInt(req.RequesterID, 10),
			idOrBlank(req.ResponsibleID),
			req.CreatedAt.UTC().Format("2006-01-02 15:04"),
			dateOrBlank(req.Deadline),
		)
	}
	return ds
}

type labeled interface {
	Label() string
}

func labelOrBlank[T labeled](v *T) string {
	if v == nil {
		return ""
	}
	return (*v).Label()
}

func idOrBlank(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func dateOrBlank(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
