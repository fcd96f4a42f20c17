package geocode

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
	"github.com/ignatzorin/ecolog-backend/internal/validation"
)

// ErrSuperseded — выбор точки перекрыт более поздним выбором.
var ErrSuperseded = errors.New("geocode: выбор точки устарел")

// Picker хранит текущую выбранную на карте точку одного пользователя.
// Новый Pick отменяет незавершённый предыдущий: его ответ не меняет Current
// и не попадает в кэш.
type Picker struct {
	resolver *Resolver

	mu      sync.Mutex
	token   uint64
	cancel  context.CancelFunc
	current *models.Resolution
}

func NewPicker(resolver *Resolver) *Picker {
	return &Picker{resolver: resolver}
}

// Pick выбирает точку и определяет для неё место.
func (p *Picker) Pick(ctx context.Context, lat, lon float64) (models.Resolution, error) {
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return models.Resolution{}, apperror.Wrap(err, apperror.ErrCodeMalformedInput, err.Error())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.token++
	token := p.token
	p.cancel = cancel
	p.mu.Unlock()

	res, fresh := p.resolver.lookup(ctx, lat, lon)

	p.mu.Lock()
	if token != p.token {
		p.mu.Unlock()
		return models.Resolution{}, ErrSuperseded
	}
	p.current = &res
	p.cancel = nil
	p.mu.Unlock()

	if fresh {
		p.resolver.remember(ctx, res)
	}
	return res, nil
}

// Current возвращает последнюю завершённую выборку.
func (p *Picker) Current() (models.Resolution, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return models.Resolution{}, false
	}
	return *p.current, true
}

// Reset забывает текущую точку и отменяет незавершённый выбор.
func (p *Picker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.token++
	p.current = nil
}

// PickerRegistry держит по одному Picker на имя пользователя.
type PickerRegistry struct {
	resolver *Resolver

	mu      sync.Mutex
	pickers map[string]*Picker
}

func NewPickerRegistry(resolver *Resolver) *PickerRegistry {
	return &PickerRegistry{resolver: resolver, pickers: make(map[string]*Picker)}
}

// For возвращает Picker пользователя, создавая его при первом обращении.
func (r *PickerRegistry) For(name string) *Picker {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pickers[name]
	if !ok {
		p = NewPicker(r.resolver)
		r.pickers[name] = p
	}
	return p
}

// ResetAll сбрасывает выбор у всех пользователей (после очистки кэша).
func (r *PickerRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pickers {
		p.Reset()
	}
}
