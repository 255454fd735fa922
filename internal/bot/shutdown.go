// internal/bot/shutdown.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

// closer – ресурс, который runner освобождает при остановке
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// ShutdownHandler закрывает зарегистрированные ресурсы в обратном порядке (LIFO)
type ShutdownHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	closers []closer
	done    bool
}

func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &ShutdownHandler{logger: logger, timeout: timeout}
}

// Add регистрирует функцию закрытия
func (sh *ShutdownHandler) Add(name string, fn func(ctx context.Context) error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.closers = append(sh.closers, closer{name: name, fn: fn})
	sh.logger.Debug("Registered for shutdown", zap.String("service", name))
}

// Shutdown закрывает всё один раз; повторные вызовы ничего не делают.
func (sh *ShutdownHandler) Shutdown() error {
	sh.mu.Lock()
	if sh.done {
		sh.mu.Unlock()
		return nil
	}
	sh.done = true
	closers := sh.closers
	sh.closers = nil
	sh.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sh.timeout)
	defer cancel()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			sh.logger.Error("Failed to shutdown service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		sh.logger.Debug("Service shutdown complete", zap.String("service", c.name))
	}
	return errors.Join(errs...)
}
