package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/ignatzorin/ecolog-backend/internal/clock"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
)

// QueryService строит сводку по коллекции обращений: строки таблицы,
// статистику по местам и список мест для фильтра.
type QueryService struct {
	store *ReportStore
	clock clock.Clock
}

// NewQueryService создаёт сервис сводки поверх хранилища.
func NewQueryService(store *ReportStore, clk clock.Clock) *QueryService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &QueryService{store: store, clock: clk}
}

// maxWindowDays — самое длинное окно, которое помещается в time.Duration.
const maxWindowDays = int(math.MaxInt64 / int64(24*time.Hour))

type datedReport struct {
	report models.Report
	at     time.Time
}

// Query возвращает обращения за последние windowDays дней, при необходимости
// только для одного места. placeList всегда строится по всей коллекции.
func (s *QueryService) Query(ctx context.Context, windowDays int, placeFilter string) (models.QueryResult, error) {
	if windowDays <= 0 {
		return models.QueryResult{}, apperror.Malformed("o período deve ser maior que zero (recebido %d)", windowDays)
	}

	all, err := s.store.List(ctx)
	if err != nil {
		return models.QueryResult{}, err
	}

	now := s.clock.Now()
	window := time.Duration(min(windowDays, maxWindowDays)) * 24 * time.Hour
	filter := strings.TrimSpace(placeFilter)
	normalizer := s.store.Normalizer()

	filtered := make([]datedReport, 0, len(all))
	for _, r := range all {
		at, ok := normalizer.Effective(r.OccurredAt, r.ID)
		if !ok {
			continue
		}
		if now.Sub(at) > window {
			continue
		}
		if filter != "" && filter != models.AllPlaces && r.GroupPlace() != filter {
			continue
		}
		filtered = append(filtered, datedReport{report: r, at: at})
	}

	stats, places := statsByPlace(filtered)

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].at.After(filtered[j].at)
	})
	rows := make([]models.Report, len(filtered))
	for i, d := range filtered {
		rows[i] = d.report
	}

	return models.QueryResult{
		Rows:         rows,
		StatsByPlace: stats,
		Places:       places,
		PlaceList:    placeList(all),
	}, nil
}

// statsByPlace считает количество и среднюю уверенность в порядке хранения.
func statsByPlace(filtered []datedReport) (map[string]models.PlaceStats, []string) {
	type acc struct {
		count int
		sum   float64
	}

	sums := make(map[string]*acc)
	places := make([]string, 0)
	for _, d := range filtered {
		key := d.report.GroupPlace()
		a, ok := sums[key]
		if !ok {
			a = &acc{}
			sums[key] = a
			places = append(places, key)
		}
		a.count++
		a.sum += float64(d.report.Confidence)
	}

	stats := make(map[string]models.PlaceStats, len(sums))
	for key, a := range sums {
		stats[key] = models.PlaceStats{
			Count:             a.count,
			AverageConfidence: math.Round(a.sum/float64(a.count)*10) / 10,
		}
	}
	return stats, places
}

// placeList — уникальные места всей коллекции в порядке pt-BR.
func placeList(all []models.Report) []string {
	seen := make(map[string]struct{})
	list := make([]string, 0)
	for _, r := range all {
		key := r.GroupPlace()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		list = append(list, key)
	}

	collate.New(language.BrazilianPortuguese).SortStrings(list)
	return list
}

// Dashboard возвращает нерешённые обращения.
func (s *QueryService) Dashboard(ctx context.Context) (models.DashboardView, error) {
	unresolved, err := s.store.Unresolved(ctx)
	if err != nil {
		return models.DashboardView{}, err
	}
	return models.DashboardView{Unresolved: unresolved, Count: len(unresolved)}, nil
}
