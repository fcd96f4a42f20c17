package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/ecolog-backend/internal/logger"
)

// Logger интерфейс для логирования ошибок
type Logger interface {
	Errorf(format string, args ...interface{})
}

// RecoveryHandler обрабатывает panic в горутинах и колбэках таймеров
type RecoveryHandler struct {
	logger Logger
}

// NewRecoveryHandler создает новый обработчик
func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(fn func()) {
	go rh.Protect("goroutine", fn)
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go rh.Protect("goroutine (with context)", func() { fn(ctx) })
}

// Protect выполняет fn в текущей горутине и гасит panic.
func (rh *RecoveryHandler) Protect(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			rh.logger.Errorf("Panic in %s: %v\nStack trace:\n%s", name, r, debug.Stack())
		}
	}()
	fn()
}

// logrusLogger направляет ошибки в общий логгер. Логгер берётся в момент
// вызова, потому что logger.Init заменяет logger.Log.
type logrusLogger struct{}

func (logrusLogger) Errorf(format string, args ...interface{}) {
	logger.Log.WithFields(logrus.Fields{"component": "goroutine"}).Errorf(format, args...)
}

// DefaultRecoveryHandler - глобальный обработчик, пишет в logger.Log
var DefaultRecoveryHandler = NewRecoveryHandler(logrusLogger{})

// SafeGo - упрощенная функция для запуска безопасной горутины
func SafeGo(fn func()) {
	DefaultRecoveryHandler.SafeGo(fn)
}

// SafeGoWithContext - упрощенная функция для запуска безопасной горутины с контекстом
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, fn)
}

// Protect - упрощенная функция для вызова с обработкой panic
func Protect(name string, fn func()) {
	DefaultRecoveryHandler.Protect(name, fn)
}
