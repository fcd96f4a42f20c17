package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/ignatzorin/ecolog-backend/internal/logger"
)

// ErrNoPlace — геокодер ответил, но названия места в ответе нет.
var ErrNoPlace = errors.New("geocode: место не найдено")

// StatusError — геокодер вернул HTTP-код ошибки.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocode: код ответа %d", e.Code)
}

// Поля address в порядке предпочтения.
var addressFields = []string{"neighbourhood", "suburb", "city_district", "village", "town", "city"}

// NominatimConfig — параметры клиента.
type NominatimConfig struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec int64
	Attempts   uint
	RetryDelay time.Duration
}

// NominatimClient выполняет обратное геокодирование через Nominatim (OSM).
type NominatimClient struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	httpClient *http.Client
	limiter    *limiter.Limiter
}

// NewNominatimClient создаёт клиента. Политика Nominatim: не больше одного запроса в секунду.
func NewNominatimClient(cfg NominatimConfig) *NominatimClient {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 300 * time.Millisecond
	}

	rate := limiter.Rate{Period: time.Second, Limit: cfg.RatePerSec}

	return &NominatimClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		attempts:   cfg.Attempts,
		retryDelay: cfg.RetryDelay,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter.New(memory.NewStore(), rate),
	}
}

type reverseResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Reverse возвращает название места для координат. 5xx и сетевые ошибки
// повторяются с backoff, 4xx сразу возвращаются.
func (c *NominatimClient) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var place string
	err := retry.Do(
		func() error {
			p, err := c.reverseOnce(ctx, lat, lon)
			if err != nil {
				return err
			}
			place = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Component("geocode").WithFields(logrus.Fields{
				"attempt": n + 1,
				"error":   err.Error(),
			}).Debug("повтор запроса к Nominatim")
		}),
	)
	if err != nil {
		return "", err
	}
	return place, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrNoPlace) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	return true
}

func (c *NominatimClient) reverseOnce(ctx context.Context, lat, lon float64) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("geocode: не удалось создать запрос: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("geocode: не удалось разобрать ответ: %w", err)
	}

	return pickPlace(body)
}

// wait блокируется, пока лимитер не разрешит следующий запрос.
func (c *NominatimClient) wait(ctx context.Context) error {
	for {
		lctx, err := c.limiter.Get(ctx, "nominatim")
		if err != nil {
			return fmt.Errorf("geocode: лимитер недоступен: %w", err)
		}
		if !lctx.Reached {
			return nil
		}

		delay := time.Until(time.Unix(lctx.Reset, 0))
		if delay <= 0 {
			delay = 50 * time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func pickPlace(body reverseResponse) (string, error) {
	if body.Error != "" {
		return "", ErrNoPlace
	}
	for _, field := range addressFields {
		if v := strings.TrimSpace(body.Address[field]); v != "" {
			return v, nil
		}
	}
	if body.DisplayName != "" {
		if first := strings.TrimSpace(strings.Split(body.DisplayName, ",")[0]); first != "" {
			return first, nil
		}
	}
	return "", ErrNoPlace
}
