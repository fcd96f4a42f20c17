// Package timestamp приводит разнородные представления даты (ISO-строки,
// локальный формат dd/mm/yyyy[ hh:mm], числовые идентификаторы-эпохи) к
// одному моменту времени. Нераспознанный ввод даёт ok == false, паники нет.
package timestamp

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout — каноническая форма, в которой хранится occurredAt.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// localePattern: D/M/YYYY, затем необязательно пробел или T и H:MM[:SS].
var localePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)

// jsDateSuffix отрезает "(Horário Padrão de Brasília)" из вывода Date.toString.
var jsDateSuffix = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// Раскладки с явной зоной.
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.RubyDate,
	time.UnixDate,
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// Дата-время без зоны трактуется как локальное время.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	time.ANSIC,
}

// Только дата трактуется как UTC.
var dateOnlyLayouts = []string{
	"2006-01-02",
	"2006-01",
	"2006",
}

// Normalizer разбирает даты в заданной локации.
type Normalizer struct {
	Location *time.Location
}

// Default использует локальную зону процесса.
var Default = Normalizer{Location: time.Local}

func (n Normalizer) loc() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

// Parse превращает строку в момент времени.
func (n Normalizer) Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, ok := n.parseBaseline(s); ok {
		return t, true
	}

	return n.parseLocale(s)
}

func (n Normalizer) parseBaseline(s string) (time.Time, bool) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if stripped := jsDateSuffix.ReplaceAllString(s, ""); stripped != s {
		for _, layout := range zonedLayouts {
			if t, err := time.Parse(layout, stripped); err == nil {
				return t, true
			}
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc()); err == nil {
			return t, true
		}
	}
	for _, layout := range dateOnlyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (n Normalizer) parseLocale(s string) (time.Time, bool) {
	m := localePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, minute, second := 0, 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}
	if m[6] != "" {
		second, _ = strconv.Atoi(m[6])
	}

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, n.loc())
	// 31/02 не должно превращаться в 3 марта.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// ParseValue принимает строку, число (миллисекунды эпохи) или nil.
func (n Normalizer) ParseValue(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case string:
		return n.Parse(val)
	case json.Number:
		if ms, err := val.Int64(); err == nil {
			return FromEpochID(ms)
		}
		if f, err := val.Float64(); err == nil {
			return FromEpochID(int64(f))
		}
		return time.Time{}, false
	case int:
		return FromEpochID(int64(val))
	case int64:
		return FromEpochID(val)
	case float64:
		return FromEpochID(int64(val))
	default:
		return time.Time{}, false
	}
}

// NormalizeISO возвращает каноническую ISO-строку, если ввод распознан.
func (n Normalizer) NormalizeISO(s string) (string, bool) {
	t, ok := n.Parse(s)
	if !ok {
		return "", false
	}
	return ToISO(t), true
}

// Effective вычисляет эффективный момент записи: сначала occurredAt,
// затем id как миллисекунды эпохи. Без них момента нет.
func (n Normalizer) Effective(occurredAt string, id int64) (time.Time, bool) {
	if t, ok := n.Parse(occurredAt); ok {
		return t, true
	}
	return FromEpochID(id)
}

// FromEpochID трактует идентификатор как миллисекунды эпохи; ноль — неизвестно.
func FromEpochID(id int64) (time.Time, bool) {
	if id == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(id).UTC(), true
}

// ToISO форматирует момент в каноническом виде (UTC, миллисекунды).
func ToISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

func Parse(s string) (time.Time, bool) { return Default.Parse(s) }

func ParseValue(v any) (time.Time, bool) { return Default.ParseValue(v) }

func NormalizeISO(s string) (string, bool) { return Default.NormalizeISO(s) }

func Effective(occurredAt string, id int64) (time.Time, bool) {
	return Default.Effective(occurredAt, id)
}
