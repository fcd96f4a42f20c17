package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ignatzorin/ecolog-backend/internal/models"
	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
	"github.com/ignatzorin/ecolog-backend/internal/validation"
)

// DefaultSessionTTL — срок жизни сессии по умолчанию.
const DefaultSessionTTL = 30 * 24 * time.Hour

// SessionManager выпускает и проверяет JWT, в котором хранится только
// отображаемое имя пользователя. Паролей нет.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager создаёт менеджер сессий.
func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue проверяет имя и выпускает токен.
func (m *SessionManager) Issue(name string) (models.Session, error) {
	name = strings.TrimSpace(name)
	if err := validation.ValidateDisplayName(name); err != nil {
		return models.Session{}, apperror.Wrap(err, apperror.ErrCodeMalformedInput, err.Error())
	}

	now := m.now()
	exp := now.Add(m.ttl)
	claims := jwt.MapClaims{
		"name": name,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
		"jti":  uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return models.Session{}, fmt.Errorf("session: не удалось подписать токен: %w", err)
	}

	return models.Session{
		Token:     token,
		User:      models.User{Name: name},
		ExpiresAt: exp,
	}, nil
}

// Parse возвращает пользователя из токена. Любая проблема с токеном даёт
// apperror.ErrUnauthenticated.
func (m *SessionManager) Parse(token string) (*models.User, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("session: неожиданный метод подписи %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, unauthenticated(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, unauthenticated(jwt.ErrTokenInvalidClaims)
	}

	name, _ := claims["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, unauthenticated(jwt.ErrTokenInvalidClaims)
	}

	return &models.User{Name: name}, nil
}

func unauthenticated(cause error) error {
	if cause == nil {
		cause = errors.New("session: токен недействителен")
	}
	return apperror.Wrap(cause, apperror.ErrCodeUnauthenticated, "sessão inválida ou expirada")
}
