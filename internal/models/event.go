package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportEvent публикуется после каждой успешной мутации хранилища.
type ReportEvent struct {
	EventID    uuid.UUID `json:"eventId"`
	Type       string    `json:"type"`
	ReportID   int64     `json:"reportId"`
	Report     *Report   `json:"report,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewReportEvent создаёт событие с новым идентификатором.
func NewReportEvent(eventType string, reportID int64, report *Report, at time.Time) ReportEvent {
	return ReportEvent{
		EventID:    uuid.New(),
		Type:       eventType,
		ReportID:   reportID,
		Report:     report,
		OccurredAt: at.UTC(),
	}
}
