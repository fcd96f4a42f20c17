package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/ecolog-backend/internal/clock"
	"github.com/ignatzorin/ecolog-backend/internal/goroutine"
	"github.com/ignatzorin/ecolog-backend/internal/logger"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
	"github.com/ignatzorin/ecolog-backend/internal/repository"
	"github.com/ignatzorin/ecolog-backend/internal/timestamp"
	"github.com/ignatzorin/ecolog-backend/internal/validation"
)

// DefaultUndoWindow — сколько удалённую запись можно вернуть.
const DefaultUndoWindow = 6000 * time.Millisecond

// ReportStoreOptions — зависимости и настройки хранилища.
type ReportStoreOptions struct {
	Clock             clock.Clock
	Normalizer        timestamp.Normalizer
	UndoWindow        time.Duration
	MaxThumbnailBytes int64
}

// ReportStore владеет коллекцией обращений (документ "reports").
//
// Все мутации сериализованы одним мьютексом: новая коллекция вычисляется,
// сохраняется и только после успешной записи становится текущей. События
// подписчикам доставляются после фиксации, в порядке фиксации.
type ReportStore struct {
	docs       repository.DocumentStore
	clock      clock.Clock
	normalizer timestamp.Normalizer
	undoWindow time.Duration
	maxThumb   int64

	mu      sync.Mutex
	loaded  bool
	reports []models.Report
	lastID  int64
	pending map[int64]*pendingEntry
	closed  bool

	// unreadable — записи документа, которые не удалось разобрать. Они
	// дописываются в конец документа при каждой фиксации без изменений.
	unreadable []json.RawMessage

	// notifyMu берётся до освобождения mu, поэтому события не обгоняют друг друга.
	notifyMu    sync.Mutex
	subMu       sync.RWMutex
	subscribers map[uint64]func(models.ReportEvent)
	nextSubID   uint64
}

type pendingEntry struct {
	deletion models.PendingDeletion
	timer    clock.Timer
}

// NewReportStore создаёт хранилище. Документ читается при первом обращении или в Load.
func NewReportStore(docs repository.DocumentStore, opts ReportStoreOptions) *ReportStore {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Normalizer.Location == nil {
		opts.Normalizer = timestamp.Default
	}
	if opts.UndoWindow <= 0 {
		opts.UndoWindow = DefaultUndoWindow
	}

	return &ReportStore{
		docs:        docs,
		clock:       opts.Clock,
		normalizer:  opts.Normalizer,
		undoWindow:  opts.UndoWindow,
		maxThumb:    opts.MaxThumbnailBytes,
		pending:     make(map[int64]*pendingEntry),
		subscribers: make(map[uint64]func(models.ReportEvent)),
	}
}

// Normalizer возвращает нормализатор времени, с которым работает хранилище.
func (s *ReportStore) Normalizer() timestamp.Normalizer {
	return s.normalizer
}

// Load читает документ заранее, чтобы ошибки хранилища всплыли при старте.
func (s *ReportStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Create добавляет новое обращение от имени пользователя.
func (s *ReportStore) Create(ctx context.Context, user *models.User, candidate models.ReportCandidate) (models.Report, error) {
	if user == nil || strings.TrimSpace(user.Name) == "" {
		return models.Report{}, apperror.ErrUnauthenticated
	}

	report, err := s.buildReport(user, candidate)
	if err != nil {
		return models.Report{}, err
	}

	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return models.Report{}, err
	}

	report.ID = s.nextIDLocked()
	next := make([]models.Report, 0, len(s.reports)+1)
	next = append(next, s.reports...)
	next = append(next, report)

	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return models.Report{}, err
	}
	s.lastID = report.ID

	s.publishAndUnlock(s.event(models.EventReportCreated, report.ID, &report))
	return report, nil
}

func (s *ReportStore) buildReport(user *models.User, c models.ReportCandidate) (models.Report, error) {
	if c.Lat == nil || c.Lon == nil {
		return models.Report{}, apperror.Malformed("lat e lon são obrigatórios")
	}
	if c.Confidence == nil {
		return models.Report{}, apperror.Malformed("confiança é obrigatória")
	}
	if err := validation.ValidateCoordinates(*c.Lat, *c.Lon); err != nil {
		return models.Report{}, malformed(err)
	}
	if err := validation.ValidateConfidence(float64(*c.Confidence)); err != nil {
		return models.Report{}, malformed(err)
	}
	if err := validation.ValidatePlace(c.Place); err != nil {
		return models.Report{}, malformed(err)
	}
	if err := validation.ValidateOccurredAt(c.OccurredAt); err != nil {
		return models.Report{}, malformed(err)
	}
	if err := validation.ValidateThumbnail(c.Thumbnail, s.maxThumb); err != nil {
		return models.Report{}, malformed(err)
	}

	occurredAt := strings.TrimSpace(c.OccurredAt)
	if occurredAt == "" {
		occurredAt = timestamp.ToISO(s.clock.Now())
	} else if iso, ok := s.normalizer.NormalizeISO(occurredAt); ok {
		occurredAt = iso
	}

	return models.Report{
		Lat:        *c.Lat,
		Lon:        *c.Lon,
		Place:      strings.TrimSpace(c.Place),
		Confidence: *c.Confidence,
		OccurredAt: occurredAt,
		Thumbnail:  c.Thumbnail,
		Reporter:   strings.TrimSpace(user.Name),
		Resolved:   false,
	}, nil
}

// nextIDLocked выдаёт id по текущему времени в мс, строго больше предыдущего.
func (s *ReportStore) nextIDLocked() int64 {
	id := s.clock.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	return id
}

// Update меняет только переданные поля. Пустые строки оставляют старое значение.
func (s *ReportStore) Update(ctx context.Context, id int64, patch models.ReportPatch) (models.Report, error) {
	if patch.Confidence != nil {
		if err := validation.ValidateConfidence(float64(*patch.Confidence)); err != nil {
			return models.Report{}, malformed(err)
		}
	}
	if patch.Place != nil {
		if err := validation.ValidatePlace(*patch.Place); err != nil {
			return models.Report{}, malformed(err)
		}
	}
	if patch.OccurredAt != nil {
		if err := validation.ValidateOccurredAt(*patch.OccurredAt); err != nil {
			return models.Report{}, malformed(err)
		}
	}

	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return models.Report{}, err
	}

	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.Report{}, apperror.NotFound(id)
	}

	updated := s.reports[idx]
	if patch.Place != nil {
		if place := strings.TrimSpace(*patch.Place); place != "" {
			updated.Place = place
		}
	}
	if patch.Confidence != nil {
		updated.Confidence = *patch.Confidence
	}
	if patch.OccurredAt != nil {
		if raw := strings.TrimSpace(*patch.OccurredAt); raw != "" {
			if iso, ok := s.normalizer.NormalizeISO(raw); ok {
				updated.OccurredAt = iso
			} else {
				updated.OccurredAt = raw
			}
		}
	}

	next := slices.Clone(s.reports)
	next[idx] = updated
	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return models.Report{}, err
	}

	s.publishAndUnlock(s.event(models.EventReportUpdated, id, &updated))
	return updated, nil
}

// ToggleResolved переключает флаг resolved.
func (s *ReportStore) ToggleResolved(ctx context.Context, id int64) (models.Report, error) {
	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return models.Report{}, err
	}

	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.Report{}, apperror.NotFound(id)
	}

	next := slices.Clone(s.reports)
	next[idx].Resolved = !next[idx].Resolved
	updated := next[idx]

	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return models.Report{}, err
	}

	s.publishAndUnlock(s.event(models.EventReportResolved, id, &updated))
	return updated, nil
}

// SoftDelete убирает запись из коллекции и держит копию до конца окна отмены.
func (s *ReportStore) SoftDelete(ctx context.Context, id int64) (models.PendingDeletion, error) {
	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return models.PendingDeletion{}, err
	}

	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.PendingDeletion{}, apperror.NotFound(id)
	}

	removed := s.reports[idx]
	next := slices.Delete(slices.Clone(s.reports), idx, idx+1)
	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return models.PendingDeletion{}, err
	}

	entry := &pendingEntry{deletion: models.PendingDeletion{
		ID:        id,
		Report:    removed,
		ExpiresAt: s.clock.Now().Add(s.undoWindow),
	}}
	s.armLocked(entry, s.undoWindow)
	s.pending[id] = entry
	deletion := entry.deletion

	s.publishAndUnlock(s.event(models.EventReportDeleted, id, &removed))
	return deletion, nil
}

// UndoDelete возвращает удалённую запись в начало коллекции, пока окно отмены не истекло.
func (s *ReportStore) UndoDelete(ctx context.Context, id int64) (models.Report, error) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return models.Report{}, apperror.NotFound(id)
	}

	// Stop == false: таймер уже сработал и ждёт mu, запись уходит навсегда.
	if !entry.timer.Stop() {
		s.mu.Unlock()
		return models.Report{}, apperror.ErrPendingExpired
	}

	restored := entry.deletion.Report
	next := make([]models.Report, 0, len(s.reports)+1)
	next = append(next, restored)
	next = append(next, s.reports...)

	if err := s.commitLocked(ctx, next); err != nil {
		remaining := entry.deletion.ExpiresAt.Sub(s.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		s.armLocked(entry, remaining)
		s.mu.Unlock()
		return models.Report{}, err
	}
	delete(s.pending, id)

	s.publishAndUnlock(s.event(models.EventReportRestored, id, &restored))
	return restored, nil
}

// armLocked запускает таймер окончательного удаления.
func (s *ReportStore) armLocked(entry *pendingEntry, d time.Duration) {
	id := entry.deletion.ID
	entry.timer = s.clock.AfterFunc(d, func() {
		goroutine.Protect("report-undo-timer", func() { s.expire(id, entry) })
	})
}

func (s *ReportStore) expire(id int64, entry *pendingEntry) {
	s.mu.Lock()
	if current, ok := s.pending[id]; !ok || current != entry {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)

	s.publishAndUnlock(s.event(models.EventReportPurged, id, nil))
}

// Pending возвращает удаление, которое ещё можно отменить.
func (s *ReportStore) Pending(id int64) (models.PendingDeletion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[id]
	if !ok {
		return models.PendingDeletion{}, false
	}
	return entry.deletion, true
}

// List возвращает снимок коллекции в сохранённом порядке.
func (s *ReportStore) List(ctx context.Context) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.reports), nil
}

// Get возвращает одно обращение.
func (s *ReportStore) Get(ctx context.Context, id int64) (models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return models.Report{}, err
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Report{}, apperror.NotFound(id)
	}
	return s.reports[idx], nil
}

// Unresolved возвращает нерешённые обращения в сохранённом порядке.
func (s *ReportStore) Unresolved(ctx context.Context) ([]models.Report, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Report, 0, len(all))
	for _, r := range all {
		if !r.Resolved {
			out = append(out, r)
		}
	}
	return out, nil
}

// CountByReporter считает обращения пользователя.
func (s *ReportStore) CountByReporter(ctx context.Context, name string) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	name = strings.TrimSpace(name)
	count := 0
	for _, r := range all {
		if r.Reporter == name {
			count++
		}
	}
	return count, nil
}

// Import переносит записи из старого браузерного формата. Записи с уже
// существующими (или ожидающими удаления) id пропускаются, некорректные
// отклоняются. Всё сохраняется одной записью документа.
func (s *ReportStore) Import(ctx context.Context, user *models.User, legacy []models.LegacyReport) (models.ImportResult, error) {
	if user == nil || strings.TrimSpace(user.Name) == "" {
		return models.ImportResult{}, apperror.ErrUnauthenticated
	}

	result := models.ImportResult{Imported: []int64{}, Skipped: []int64{}, Rejected: []models.ImportRejection{}}
	candidates := make([]models.Report, 0, len(legacy))
	for i, l := range legacy {
		report, err := l.ToReport(s.normalizer)
		if err == nil {
			report, err = validateImported(report, s.maxThumb)
		}
		if err != nil {
			result.Rejected = append(result.Rejected, models.ImportRejection{Index: i, Reason: err.Error()})
			continue
		}
		candidates = append(candidates, report)
	}

	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return models.ImportResult{}, err
	}

	seen := make(map[int64]struct{}, len(s.reports)+len(s.pending))
	for _, r := range s.reports {
		seen[r.ID] = struct{}{}
	}
	for id := range s.pending {
		seen[id] = struct{}{}
	}

	next := slices.Clone(s.reports)
	lastID := s.lastID
	for _, r := range candidates {
		if _, dup := seen[r.ID]; dup {
			result.Skipped = append(result.Skipped, r.ID)
			continue
		}
		seen[r.ID] = struct{}{}
		next = append(next, r)
		result.Imported = append(result.Imported, r.ID)
		lastID = max(lastID, r.ID)
	}

	if len(result.Imported) == 0 {
		s.mu.Unlock()
		return result, nil
	}

	if err := s.commitLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return models.ImportResult{}, err
	}
	s.lastID = lastID

	events := make([]models.ReportEvent, 0, len(result.Imported))
	for _, id := range result.Imported {
		events = append(events, s.event(models.EventReportImported, id, nil))
	}
	s.publishAndUnlock(events...)
	return result, nil
}

// validateImported проверяет диапазоны. Негодная миниатюра отбрасывается,
// сама запись сохраняется.
func validateImported(r models.Report, maxThumb int64) (models.Report, error) {
	if err := validation.ValidateCoordinates(r.Lat, r.Lon); err != nil {
		return r, err
	}
	if err := validation.ValidateConfidence(float64(r.Confidence)); err != nil {
		return r, err
	}
	if err := validation.ValidateThumbnail(r.Thumbnail, maxThumb); err != nil {
		logger.Component("report-store").WithField("id", r.ID).WithError(err).Warn("миниатюра отброшена при импорте")
		r.Thumbnail = ""
	}
	return r, nil
}

// Subscribe регистрирует получателя событий. Получатель не должен
// синхронно вызывать мутирующие методы хранилища.
func (s *ReportStore) Subscribe(fn func(models.ReportEvent)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

// Close останавливает таймеры; ожидающие удаления становятся окончательными.
func (s *ReportStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	events := make([]models.ReportEvent, 0, len(s.pending))
	for id, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, id)
		events = append(events, s.event(models.EventReportPurged, id, nil))
	}
	s.publishAndUnlock(events...)
}

func (s *ReportStore) indexLocked(id int64) int {
	return slices.IndexFunc(s.reports, func(r models.Report) bool { return r.ID == id })
}

func (s *ReportStore) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	raw, err := s.docs.Get(ctx, repository.DocumentReports)
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound):
		s.reports = []models.Report{}
		s.loaded = true
		return nil
	case err != nil:
		return s.escalate(apperror.Wrap(err, apperror.ErrCodePersistence, "não foi possível ler as denúncias"))
	}

	reports, unreadable, err := decodeReports(raw, s.normalizer)
	if err != nil {
		// Документ не перезаписывается, пока его не починят вручную.
		return s.escalate(apperror.Wrap(err, apperror.ErrCodePersistence, "documento de denúncias corrompido"))
	}
	if len(unreadable) > 0 {
		logger.Component("report-store").WithField("count", len(unreadable)).Warn("нераспознанные записи сохраняются в документе как есть")
	}

	s.reports = reports
	s.unreadable = unreadable
	for _, r := range reports {
		s.lastID = max(s.lastID, r.ID)
	}
	s.loaded = true
	return nil
}

// decodeReports принимает и текущую схему, и старую браузерную. Некорректные
// и повторяющиеся записи возвращаются отдельно в исходном виде.
func decodeReports(raw []byte, n timestamp.Normalizer) ([]models.Report, []json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("report store: не удалось разобрать документ: %w", err)
	}

	reports := make([]models.Report, 0, len(items))
	var unreadable []json.RawMessage
	seen := make(map[int64]struct{}, len(items))
	for i, item := range items {
		var l models.LegacyReport
		err := json.Unmarshal(item, &l)
		var r models.Report
		if err == nil {
			r, err = l.ToReport(n)
		}
		if err != nil {
			logger.Component("report-store").WithFields(logrus.Fields{
				"index": i,
				"error": err.Error(),
			}).Warn("запись не распознана при загрузке")
			unreadable = append(unreadable, item)
			continue
		}
		if _, dup := seen[r.ID]; dup {
			logger.Component("report-store").WithField("id", r.ID).Warn("повторяющийся id при загрузке")
			unreadable = append(unreadable, item)
			continue
		}
		seen[r.ID] = struct{}{}
		reports = append(reports, r)
	}
	return reports, unreadable, nil
}

func (s *ReportStore) commitLocked(ctx context.Context, next []models.Report) error {
	doc := make([]any, 0, len(next)+len(s.unreadable))
	for _, r := range next {
		doc = append(doc, r)
	}
	for _, item := range s.unreadable {
		doc = append(doc, item)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return s.escalate(apperror.Persistence(fmt.Errorf("report store: сериализация: %w", err)))
	}
	if err := s.docs.Put(ctx, repository.DocumentReports, raw); err != nil {
		return s.escalate(apperror.Persistence(err))
	}
	s.reports = next
	return nil
}

// escalate логирует сбой хранилища и отправляет его в Sentry (если настроен).
func (s *ReportStore) escalate(err *apperror.AppError) error {
	logger.Component("report-store").WithError(err).Error("сбой хранилища")
	sentry.CaptureException(err)
	return err
}

func (s *ReportStore) event(eventType string, id int64, report *models.Report) models.ReportEvent {
	var snapshot *models.Report
	if report != nil {
		copied := *report
		snapshot = &copied
	}
	return models.NewReportEvent(eventType, id, snapshot, s.clock.Now())
}

// publishAndUnlock вызывается под mu: захватывает notifyMu, отпускает mu и
// рассылает события.
func (s *ReportStore) publishAndUnlock(events ...models.ReportEvent) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if len(events) == 0 {
		return
	}

	s.subMu.RLock()
	subs := make([]func(models.ReportEvent), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range subs {
			goroutine.Protect("report-subscriber", func() { fn(ev) })
		}
	}
}

func malformed(err error) error {
	return apperror.Wrap(err, apperror.ErrCodeMalformedInput, err.Error())
}
