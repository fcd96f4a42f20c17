package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Report описывает одно обращение (denúncia) о несанкционированной свалке.
type Report struct {
	ID         int64      `json:"id"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Place      string     `json:"place"`
	Confidence Confidence `json:"confidence"`
	OccurredAt string     `json:"occurredAt"`
	Thumbnail  string     `json:"thumbnail,omitempty"`
	Reporter   string     `json:"reporter"`
	Resolved   bool       `json:"resolved"`
}

// GroupPlace возвращает ключ группировки: обрезанное место или PlaceOther.
func (r Report) GroupPlace() string {
	if p := strings.TrimSpace(r.Place); p != "" {
		return p
	}
	return PlaceOther
}

// Confidence — уверенность классификатора в процентах.
// При чтении принимает число или числовую строку ("87", "87.5%").
type Confidence float64

func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*c = Confidence(num)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("models: confidence должен быть числом или строкой: %w", err)
	}
	parsed, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = Confidence(parsed)
	return nil
}

// ParseConfidence разбирает уверенность из строки, допускает суффикс "%"
// и десятичную запятую.
func ParseConfidence(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("models: нечисловая уверенность %q", s)
	}
	return v, nil
}

// ReportCandidate — входные данные для создания записи.
type ReportCandidate struct {
	Lat        *float64    `json:"lat"`
	Lon        *float64    `json:"lon"`
	Place      string      `json:"place"`
	Confidence *Confidence `json:"confidence"`
	OccurredAt string      `json:"occurredAt"`
	Thumbnail  string      `json:"thumbnail"`
}

// ReportPatch — частичное редактирование. Nil или пустая строка оставляют
// прежнее значение.
type ReportPatch struct {
	Place      *string     `json:"place"`
	Confidence *Confidence `json:"confidence"`
	OccurredAt *string     `json:"occurredAt"`
}

// Empty сообщает, что патч ничего не меняет.
func (p ReportPatch) Empty() bool {
	return p.Place == nil && p.Confidence == nil && p.OccurredAt == nil
}

// PendingDeletion — удалённая запись, которую ещё можно вернуть.
type PendingDeletion struct {
	ID        int64     `json:"id"`
	Report    Report    `json:"report"`
	ExpiresAt time.Time `json:"expiresAt"`
}
