package goroutine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestProtect_RecoversPanic(t *testing.T) {
	log := &recordingLogger{}
	rh := NewRecoveryHandler(log)

	assert.NotPanics(t, func() {
		rh.Protect("undo-timer", func() { panic("boom") })
	})
	assert.Len(t, log.lines, 1)
	assert.Contains(t, log.lines[0], "Panic in undo-timer: boom")
}

func TestSafeGo_RunsFunction(t *testing.T) {
	rh := NewRecoveryHandler(&recordingLogger{})
	var wg sync.WaitGroup
	wg.Add(1)

	done := false
	rh.SafeGo(func() {
		defer wg.Done()
		done = true
	})
	wg.Wait()
	assert.True(t, done)
}
