package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/ecolog-backend/internal/clock"
	"github.com/ignatzorin/ecolog-backend/internal/logger"
	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/repository"
)

const (
	// CacheTTL — срок жизни записи кэша.
	CacheTTL = 14 * 24 * time.Hour
	// KeyPrecision — число знаков после запятой в ключе.
	KeyPrecision = 4
)

// Key квантует координаты до KeyPrecision знаков: "-1.4558|-48.4902".
// Ключи совпадают с ключами браузерного кэша (toFixed).
func Key(lat, lon float64) string {
	return toFixed(lat, KeyPrecision) + "|" + toFixed(lon, KeyPrecision)
}

// toFixed округляет как Number.prototype.toFixed: точная половина уходит от
// нуля (strconv округляет её к чётному), -0 печатается без знака.
func toFixed(x float64, digits int) string {
	if x == 0 {
		x = 0
	}
	s := strconv.FormatFloat(x, 'f', digits, 64)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return s
	}

	const prec = 256
	scaled := new(big.Float).SetPrec(prec).SetFloat64(math.Abs(x))
	scaled.Mul(scaled, new(big.Float).SetPrec(prec).SetFloat64(math.Pow10(digits)))
	whole, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(prec).Sub(scaled, new(big.Float).SetPrec(prec).SetInt(whole))
	if frac.Cmp(big.NewFloat(0.5)) != 0 {
		return s
	}

	whole.Add(whole, big.NewInt(1))
	text := whole.String()
	if len(text) <= digits {
		text = strings.Repeat("0", digits-len(text)+1) + text
	}
	out := text[:len(text)-digits] + "." + text[len(text)-digits:]
	if x < 0 {
		out = "-" + out
	}
	return out
}

// Cache хранит названия мест по квантованным координатам в документе geocodeCache.
// Каждая мутация сразу сохраняет документ целиком.
type Cache struct {
	mu      sync.Mutex
	store   repository.DocumentStore
	clock   clock.Clock
	ttl     time.Duration
	loaded  bool
	entries map[string]models.GeocodeEntry
}

// NewCache создаёт кэш. Документ читается при первом обращении.
func NewCache(store repository.DocumentStore, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{
		store:   store,
		clock:   clk,
		ttl:     CacheTTL,
		entries: make(map[string]models.GeocodeEntry),
	}
}

// Lookup возвращает место, если запись есть и ей не больше TTL.
// Просроченная запись удаляется и документ сохраняется.
func (c *Cache) Lookup(ctx context.Context, lat, lon float64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)

	key := Key(lat, lon)
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}

	age := c.clock.Now().UnixMilli() - entry.CachedAt
	if age > c.ttl.Milliseconds() {
		next := maps.Clone(c.entries)
		delete(next, key)
		if err := c.persistLocked(ctx, next); err != nil {
			logger.Component("geocode").WithError(err).WithField("key", key).Warn("не удалось удалить просроченную запись кэша")
		}
		return "", false
	}

	if entry.Place == "" {
		return "", false
	}
	return entry.Place, true
}

// Store запоминает место для координат с текущим временем.
func (c *Cache) Store(ctx context.Context, lat, lon float64, place string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)

	next := maps.Clone(c.entries)
	next[Key(lat, lon)] = models.GeocodeEntry{Place: place, CachedAt: c.clock.Now().UnixMilli()}
	return c.persistLocked(ctx, next)
}

// Clear удаляет документ кэша целиком.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, repository.DocumentGeocodeCache); err != nil {
		return fmt.Errorf("geocode: не удалось очистить кэш: %w", err)
	}
	c.entries = make(map[string]models.GeocodeEntry)
	c.loaded = true
	return nil
}

// Len возвращает число записей, включая ещё не вычищенные просроченные.
func (c *Cache) Len(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	return len(c.entries)
}

// loadLocked читает документ один раз. Повреждённый документ считается пустым,
// ошибка хранилища оставляет кэш незагруженным до следующего вызова.
func (c *Cache) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}

	raw, err := c.store.Get(ctx, repository.DocumentGeocodeCache)
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound):
		c.loaded = true
		return
	case err != nil:
		logger.Component("geocode").WithError(err).Warn("не удалось прочитать кэш геокодирования")
		return
	}

	entries := make(map[string]models.GeocodeEntry)
	if err := json.Unmarshal(raw, &entries); err != nil {
		logger.Component("geocode").WithFields(logrus.Fields{
			"error": err.Error(),
			"bytes": len(raw),
		}).Warn("документ кэша повреждён, начинаем с пустого")
		entries = make(map[string]models.GeocodeEntry)
	}
	c.entries = entries
	c.loaded = true
}

func (c *Cache) persistLocked(ctx context.Context, next map[string]models.GeocodeEntry) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("geocode: не удалось сериализовать кэш: %w", err)
	}
	if err := c.store.Put(ctx, repository.DocumentGeocodeCache, raw); err != nil {
		return fmt.Errorf("geocode: не удалось сохранить кэш: %w", err)
	}
	c.entries = next
	return nil
}
