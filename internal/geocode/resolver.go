package geocode

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/ecolog-backend/internal/logger"
	"github.com/ignatzorin/ecolog-backend/internal/models"
)

// NegativeTTL — сколько помним, что геокодер ничего не нашёл для точки.
const NegativeTTL = 5 * time.Minute

// Geocoder превращает координаты в название места.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Memo — кэш в памяти процесса с TTL (service.CacheService).
type Memo interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
}

// Resolver определяет место: кэш, затем геокодер, затем эвристика.
// Ошибки сети наружу не выходят.
type Resolver struct {
	cache    *Cache
	geocoder Geocoder
	memo     Memo
}

func NewResolver(cache *Cache, geocoder Geocoder, memo Memo) *Resolver {
	return &Resolver{cache: cache, geocoder: geocoder, memo: memo}
}

// Resolve возвращает место для координат и сохраняет найденное в кэш.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) models.Resolution {
	res, fresh := r.lookup(ctx, lat, lon)
	if fresh {
		r.remember(ctx, res)
	}
	return res
}

// lookup ничего не пишет в кэш; fresh означает, что место пришло от геокодера.
func (r *Resolver) lookup(ctx context.Context, lat, lon float64) (models.Resolution, bool) {
	res := models.Resolution{Lat: lat, Lon: lon}

	if place, ok := r.cache.Lookup(ctx, lat, lon); ok {
		res.Place, res.Source = place, models.PlaceSourceCache
		return res, false
	}

	missKey := missKey(lat, lon)
	if r.geocoder != nil && !r.memoHit(missKey) {
		place, err := r.geocoder.Reverse(ctx, lat, lon)
		if err == nil {
			res.Place, res.Source = place, models.PlaceSourceReverse
			return res, true
		}

		if ctx.Err() == nil {
			logger.Component("geocode").WithFields(logrus.Fields{
				"key":   Key(lat, lon),
				"error": err.Error(),
			}).Warn("обратное геокодирование не удалось")
			if r.memo != nil {
				r.memo.Set(missKey, true, NegativeTTL)
			}
		}
	}

	res.Place, res.Source = EstimatePlace(lat, lon), models.PlaceSourceEstimated
	return res, false
}

// Retry забывает неудачу геокодера для точки и определяет место заново.
func (r *Resolver) Retry(ctx context.Context, lat, lon float64) models.Resolution {
	if r.memo != nil {
		r.memo.Delete(missKey(lat, lon))
	}
	return r.Resolve(ctx, lat, lon)
}

func missKey(lat, lon float64) string {
	return "geocode:miss:" + Key(lat, lon)
}

func (r *Resolver) memoHit(key string) bool {
	if r.memo == nil {
		return false
	}
	_, ok := r.memo.Get(key)
	return ok
}

// remember пишет результат в кэш. Отмена запроса пользователя запись не прерывает.
func (r *Resolver) remember(ctx context.Context, res models.Resolution) {
	if err := r.cache.Store(context.WithoutCancel(ctx), res.Lat, res.Lon, res.Place); err != nil {
		logger.Component("geocode").WithError(err).Warn("не удалось сохранить место в кэш")
	}
}

// ClearCache очищает кэш геокодирования.
func (r *Resolver) ClearCache(ctx context.Context) error {
	return r.cache.Clear(ctx)
}
