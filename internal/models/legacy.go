package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ignatzorin/ecolog-backend/internal/timestamp"
)

// LegacyReport — запись в формате старого браузерного приложения:
// id число или строка, bairro/confianca/horario/thumb вместо новых имён.
// Новые имена полей тоже принимаются.
type LegacyReport struct {
	ID         any    `json:"id"`
	Lat        any    `json:"lat"`
	Lon        any    `json:"lon"`
	Bairro     string `json:"bairro"`
	Place      string `json:"place"`
	Confianca  any    `json:"confianca"`
	Confidence any    `json:"confidence"`
	Horario    any    `json:"horario"`
	OccurredAt any    `json:"occurredAt"`
	Thumb      string `json:"thumb"`
	Thumbnail  string `json:"thumbnail"`
	Reporter   string `json:"reporter"`
	Resolved   bool   `json:"resolved"`
}

// ImportRejection описывает отклонённую при импорте запись.
type ImportRejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ImportResult — итог импорта.
type ImportResult struct {
	Imported []int64           `json:"imported"`
	Skipped  []int64           `json:"skipped"`
	Rejected []ImportRejection `json:"rejected"`
}

// ToReport приводит запись к текущей схеме. Строковый id с датой
// (старые записи хранили ISO-время) становится миллисекундами эпохи. Нецелый id, отсутствие
// координат или нечисловая уверенность дают ошибку, смешанные типы не
// сохраняются.
func (l LegacyReport) ToReport(n timestamp.Normalizer) (Report, error) {
	id, ok := coerceInt64(l.ID)
	if !ok {
		id, ok = idFromTimestamp(n, l.ID)
	}
	if !ok || id <= 0 {
		return Report{}, fmt.Errorf("models: id %v не является целым числом", l.ID)
	}

	lat, okLat := coerceFloat(l.Lat)
	lon, okLon := coerceFloat(l.Lon)
	if !okLat || !okLon {
		return Report{}, fmt.Errorf("models: у записи %d нет координат", id)
	}

	rawConfidence := l.Confidence
	if rawConfidence == nil {
		rawConfidence = l.Confianca
	}
	confidence, err := coerceConfidence(rawConfidence)
	if err != nil {
		return Report{}, fmt.Errorf("models: запись %d: %w", id, err)
	}

	place := l.Place
	if place == "" {
		place = l.Bairro
	}
	thumb := l.Thumbnail
	if thumb == "" {
		thumb = l.Thumb
	}
	reporter := strings.TrimSpace(l.Reporter)
	if reporter == "" {
		reporter = AnonymousReporter
	}

	rawTime := l.OccurredAt
	if isBlank(rawTime) {
		rawTime = l.Horario
	}

	return Report{
		ID:         id,
		Lat:        lat,
		Lon:        lon,
		Place:      place,
		Confidence: Confidence(confidence),
		OccurredAt: legacyOccurredAt(n, rawTime),
		Thumbnail:  thumb,
		Reporter:   reporter,
		Resolved:   l.Resolved,
	}, nil
}

// idFromTimestamp переводит строковый id с датой в миллисекунды эпохи.
func idFromTimestamp(n timestamp.Normalizer, v any) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	t, ok := n.Parse(s)
	if !ok {
		return 0, false
	}
	return t.UnixMilli(), true
}

// legacyOccurredAt нормализует время, нераспознанную строку хранит как есть.
func legacyOccurredAt(n timestamp.Normalizer, v any) string {
	if t, ok := n.ParseValue(v); ok {
		return timestamp.ToISO(t)
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func coerceInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func coerceFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, !math.IsNaN(val) && !math.IsInf(val, 0)
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func coerceConfidence(v any) (float64, error) {
	switch val := v.(type) {
	case string:
		return ParseConfidence(val)
	case nil:
		return 0, fmt.Errorf("уверенность отсутствует")
	default:
		f, ok := coerceFloat(val)
		if !ok {
			return 0, fmt.Errorf("нечисловая уверенность %v", v)
		}
		return f, nil
	}
}
