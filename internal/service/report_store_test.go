package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/ecolog-backend/internal/clock"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
	"github.com/ignatzorin/ecolog-backend/internal/repository"
	"github.com/ignatzorin/ecolog-backend/internal/timestamp"
)

var (
	testStart = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	maria     = &models.User{Name: "Maria"}
)

// flakyStore переключается в режим отказа записи.
type flakyStore struct {
	repository.DocumentStore
	failing atomic.Bool
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.failing.Load() {
		return errors.New("disk full")
	}
	return s.DocumentStore.Put(ctx, key, value)
}

func newTestStore(t *testing.T) (*ReportStore, *clock.Fake, *flakyStore) {
	t.Helper()
	clk := clock.NewFake(testStart)
	docs := &flakyStore{DocumentStore: repository.NewMemoryDocumentRepository()}
	store := NewReportStore(docs, ReportStoreOptions{
		Clock:      clk,
		Normalizer: timestamp.Normalizer{Location: time.UTC},
		UndoWindow: 6 * time.Second,
	})
	t.Cleanup(store.Close)
	return store, clk, docs
}

func candidate(lat, lon float64, place string, confidence float64) models.ReportCandidate {
	c := models.Confidence(confidence)
	return models.ReportCandidate{Lat: &lat, Lon: &lon, Place: place, Confidence: &c}
}

func TestReportStore_CreateAssignsUniqueIncreasingIDs(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		r, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Umarizal", 87))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	assert.Equal(t, testStart.UnixMilli(), ids[0])
	assert.Equal(t, ids[0]+1, ids[1])
	assert.Equal(t, ids[1]+1, ids[2])

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReportStore_CreateFillsDefaults(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "  Umarizal ", 87))
	require.NoError(t, err)
	assert.Equal(t, "Umarizal", r.Place)
	assert.Equal(t, "Maria", r.Reporter)
	assert.Equal(t, "2024-03-15T12:00:00.000Z", r.OccurredAt)
	assert.False(t, r.Resolved)

	c := candidate(-1.45, -48.49, "Marco", 90)
	c.OccurredAt = "12/03/2024 14:30"
	r, err = store.Create(ctx, maria, c)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-12T14:30:00.000Z", r.OccurredAt)

	c.OccurredAt = "ontem à noite"
	r, err = store.Create(ctx, maria, c)
	require.NoError(t, err)
	assert.Equal(t, "ontem à noite", r.OccurredAt)
}

func TestReportStore_CreateRequiresIdentity(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Create(context.Background(), nil, candidate(-1.45, -48.49, "Marco", 80))
	assert.True(t, apperror.IsUnauthenticated(err))

	_, err = store.Create(context.Background(), &models.User{Name: "  "}, candidate(-1.45, -48.49, "Marco", 80))
	assert.True(t, apperror.IsUnauthenticated(err))
}

func TestReportStore_CreateRejectsMalformedInput(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, maria, models.ReportCandidate{})
	assert.True(t, apperror.IsMalformed(err))

	_, err = store.Create(ctx, maria, candidate(95, -48.49, "Marco", 80))
	assert.True(t, apperror.IsMalformed(err))

	_, err = store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 120))
	assert.True(t, apperror.IsMalformed(err))
}

func TestReportStore_PersistenceFailureLeavesStateUntouched(t *testing.T) {
	store, _, docs := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)

	docs.failing.Store(true)

	_, err = store.Create(ctx, maria, candidate(-1.46, -48.50, "Umarizal", 70))
	assert.True(t, apperror.IsPersistence(err))

	_, err = store.ToggleResolved(ctx, created.ID)
	assert.True(t, apperror.IsPersistence(err))

	_, err = store.SoftDelete(ctx, created.ID)
	assert.True(t, apperror.IsPersistence(err))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, created, all[0])
}

func TestReportStore_UpdateKeepsBlankFields(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)

	blank := "   "
	confidence := models.Confidence(95)
	updated, err := store.Update(ctx, created.ID, models.ReportPatch{Place: &blank, Confidence: &confidence})
	require.NoError(t, err)
	assert.Equal(t, "Marco", updated.Place)
	assert.Equal(t, models.Confidence(95), updated.Confidence)

	when := "2024-03-10"
	updated, err = store.Update(ctx, created.ID, models.ReportPatch{OccurredAt: &when})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10T00:00:00.000Z", updated.OccurredAt)

	_, err = store.Update(ctx, 42, models.ReportPatch{Place: &when})
	assert.True(t, apperror.IsNotFound(err))
}

func TestReportStore_ToggleResolved(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)

	r, err := store.ToggleResolved(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, r.Resolved)

	r, err = store.ToggleResolved(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, r.Resolved)

	_, err = store.ToggleResolved(ctx, 1)
	assert.True(t, apperror.IsNotFound(err))
}

func TestReportStore_UndoRestoresIdenticalRecordAtHead(t *testing.T) {
	store, clk, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)
	second, err := store.Create(ctx, maria, candidate(-1.46, -48.50, "Umarizal", 70))
	require.NoError(t, err)

	before, err := json.Marshal(second)
	require.NoError(t, err)

	pending, err := store.SoftDelete(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, testStart.Add(6*time.Second), pending.ExpiresAt)

	all, _ := store.List(ctx)
	assert.Len(t, all, 1)

	clk.Advance(5 * time.Second)

	restored, err := store.UndoDelete(ctx, second.ID)
	require.NoError(t, err)
	after, err := json.Marshal(restored)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	all, _ = store.List(ctx)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
	assert.Equal(t, 0, clk.Pending())
}

func TestReportStore_UndoAfterWindowFails(t *testing.T) {
	store, clk, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)

	var purged atomic.Int32
	unsubscribe := store.Subscribe(func(ev models.ReportEvent) {
		if ev.Type == models.EventReportPurged {
			purged.Add(1)
		}
	})
	defer unsubscribe()

	_, err = store.SoftDelete(ctx, created.ID)
	require.NoError(t, err)

	clk.Advance(6 * time.Second)

	_, err = store.UndoDelete(ctx, created.ID)
	assert.True(t, apperror.IsNotFound(err))
	assert.EqualValues(t, 1, purged.Load())

	_, ok := store.Pending(created.ID)
	assert.False(t, ok)
}

func TestReportStore_UndoPersistenceFailureKeepsPending(t *testing.T) {
	store, clk, docs := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)
	_, err = store.SoftDelete(ctx, created.ID)
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	docs.failing.Store(true)
	_, err = store.UndoDelete(ctx, created.ID)
	assert.True(t, apperror.IsPersistence(err))

	docs.failing.Store(false)
	restored, err := store.UndoDelete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, restored)
}

func TestReportStore_ConcurrentTogglesOnDifferentIDs(t *testing.T) {
	store, _, docs := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)
	b, err := store.Create(ctx, maria, candidate(-1.46, -48.50, "Umarizal", 70))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := store.ToggleResolved(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	reloaded := NewReportStore(docs, ReportStoreOptions{Clock: clock.NewFake(testStart)})
	all, err := reloaded.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Resolved)
	assert.True(t, all[1].Resolved)
}

func TestReportStore_EventsDeliveredInCommitOrder(t *testing.T) {
	store, clk, _ := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var types []string
	unsubscribe := store.Subscribe(func(ev models.ReportEvent) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	created, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)
	_, err = store.ToggleResolved(ctx, created.ID)
	require.NoError(t, err)
	_, err = store.SoftDelete(ctx, created.ID)
	require.NoError(t, err)
	_, err = store.UndoDelete(ctx, created.ID)
	require.NoError(t, err)
	_, err = store.SoftDelete(ctx, created.ID)
	require.NoError(t, err)
	clk.Advance(time.Minute)

	unsubscribe()
	_, err = store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		models.EventReportCreated,
		models.EventReportResolved,
		models.EventReportDeleted,
		models.EventReportRestored,
		models.EventReportDeleted,
		models.EventReportPurged,
	}, types)
}

func TestReportStore_LoadsLegacyDocument(t *testing.T) {
	docs := repository.NewMemoryDocumentRepository()
	require.NoError(t, docs.Put(context.Background(), repository.DocumentReports, []byte(`[
		{"id": "1710253800000", "lat": -1.45, "lon": -48.49, "bairro": "Umarizal", "confianca": "87", "horario": "12/03/2024 14:30"},
		{"id": "oops", "lat": -1.45, "lon": -48.49, "confianca": "87"},
		{"id": 1710253800000, "lat": -1.45, "lon": -48.49, "confianca": "80"}
	]`)))

	store := NewReportStore(docs, ReportStoreOptions{
		Clock:      clock.NewFake(testStart),
		Normalizer: timestamp.Normalizer{Location: time.UTC},
	})
	require.NoError(t, store.Load(context.Background()))

	all, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Umarizal", all[0].Place)
	assert.Equal(t, models.AnonymousReporter, all[0].Reporter)

	created, err := store.Create(context.Background(), maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(1710253800000))
}

func TestReportStore_CorruptDocumentIsNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	docs := repository.NewMemoryDocumentRepository()
	require.NoError(t, docs.Put(ctx, repository.DocumentReports, []byte(`{not json`)))

	store := NewReportStore(docs, ReportStoreOptions{Clock: clock.NewFake(testStart)})
	t.Cleanup(store.Close)

	assert.True(t, apperror.IsPersistence(store.Load(ctx)))

	_, err := store.List(ctx)
	assert.True(t, apperror.IsPersistence(err))

	_, err = store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	assert.True(t, apperror.IsPersistence(err))

	raw, err := docs.Get(ctx, repository.DocumentReports)
	require.NoError(t, err)
	assert.Equal(t, `{not json`, string(raw))
}

func TestReportStore_UnreadableRecordsSurviveCommits(t *testing.T) {
	ctx := context.Background()
	docs := repository.NewMemoryDocumentRepository()
	require.NoError(t, docs.Put(ctx, repository.DocumentReports, []byte(`[
		{"id": 1710000000000, "lat": -1.45, "lon": -48.49, "bairro": "Umarizal", "confianca": "87"},
		{"id": "2024-03-01T10:00:00Z", "lat": -1.46, "lon": -48.50, "bairro": "Marco", "confianca": "80"},
		{"id": "oops", "lat": -1.47, "lon": -48.51, "bairro": "Pedreira", "confianca": "75"}
	]`)))

	store := NewReportStore(docs, ReportStoreOptions{
		Clock:      clock.NewFake(testStart),
		Normalizer: timestamp.Normalizer{Location: time.UTC},
	})
	t.Cleanup(store.Close)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Marco", all[1].Place)

	_, err = store.Create(ctx, maria, candidate(-1.45, -48.49, "Nazaré", 90))
	require.NoError(t, err)

	raw, err := docs.Get(ctx, repository.DocumentReports)
	require.NoError(t, err)

	var stored []map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 4)
	assert.Equal(t, "Umarizal", stored[0]["place"])
	assert.Equal(t, "Marco", stored[1]["place"])
	assert.Equal(t, "Nazaré", stored[2]["place"])
	assert.Equal(t, "oops", stored[3]["id"])
	assert.Equal(t, "Pedreira", stored[3]["bairro"])

	// после перезапуска запись по-прежнему на месте
	reopened := NewReportStore(docs, ReportStoreOptions{
		Clock:      clock.NewFake(testStart),
		Normalizer: timestamp.Normalizer{Location: time.UTC},
	})
	t.Cleanup(reopened.Close)
	_, err = reopened.ToggleResolved(ctx, 1710000000000)
	require.NoError(t, err)

	raw, err = docs.Get(ctx, repository.DocumentReports)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"oops"`)
}

func TestReportStore_Import(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	existing, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)

	var legacy []models.LegacyReport
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id": 1710000000000, "lat": -1.45, "lon": -48.49, "bairro": "Umarizal", "confianca": "87"},
		{"id": `+jsonInt(existing.ID)+`, "lat": -1.45, "lon": -48.49, "confianca": "80"},
		{"id": "abc", "lat": -1.45, "lon": -48.49, "confianca": "80"},
		{"id": 1710000000001, "lat": -1.45, "lon": -48.49, "confianca": "alta"}
	]`), &legacy))

	result, err := store.Import(ctx, maria, legacy)
	require.NoError(t, err)
	assert.Equal(t, []int64{1710000000000}, result.Imported)
	assert.Equal(t, []int64{existing.ID}, result.Skipped)
	require.Len(t, result.Rejected, 2)
	assert.Equal(t, 2, result.Rejected[0].Index)
	assert.Equal(t, 3, result.Rejected[1].Index)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = store.Import(ctx, nil, legacy)
	assert.True(t, apperror.IsUnauthenticated(err))
}

func TestReportStore_CountByReporterAndUnresolved(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)
	_, err = store.Create(ctx, &models.User{Name: "João"}, candidate(-1.46, -48.50, "Umarizal", 70))
	require.NoError(t, err)
	_, err = store.ToggleResolved(ctx, a.ID)
	require.NoError(t, err)

	count, err := store.CountByReporter(ctx, "Maria")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	unresolved, err := store.Unresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "João", unresolved[0].Reporter)
}

func TestReportStore_CloseFinalizesPending(t *testing.T) {
	store, clk, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, maria, candidate(-1.45, -48.49, "Marco", 80))
	require.NoError(t, err)
	_, err = store.SoftDelete(ctx, created.ID)
	require.NoError(t, err)

	store.Close()
	assert.Equal(t, 0, clk.Pending())

	_, err = store.UndoDelete(ctx, created.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func jsonInt(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
