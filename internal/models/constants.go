package models

// PlaceOther — группа для записей без места.
const PlaceOther = "Outros"

// AllPlaces — значение фильтра, при котором место не учитывается.
const AllPlaces = "all"

// AnonymousReporter подставляется при импорте записей без автора.
const AnonymousReporter = "anon"

// Типы событий хранилища.
const (
	EventReportCreated  = "report.created"
	EventReportUpdated  = "report.updated"
	EventReportResolved = "report.resolved"
	EventReportDeleted  = "report.deleted"
	EventReportRestored = "report.restored"
	EventReportPurged   = "report.purged"
	EventReportImported = "report.imported"
)

// Источники названия места.
const (
	PlaceSourceCache     = "cache"
	PlaceSourceReverse   = "reverse"
	PlaceSourceEstimated = "estimated"
)

// ValidEventTypes список всех типов событий.
var ValidEventTypes = map[string]struct{}{
	EventReportCreated:  {},
	EventReportUpdated:  {},
	EventReportResolved: {},
	EventReportDeleted:  {},
	EventReportRestored: {},
	EventReportPurged:   {},
	EventReportImported: {},
}
