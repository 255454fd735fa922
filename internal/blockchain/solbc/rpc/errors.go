// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoActiveClients возникает, когда список RPC узлов пуст
	ErrNoActiveClients = errors.New("no active RPC clients available")

	// ErrRateLimit: узел ответил 429
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrTimeout возникает при превышении общего времени запроса со всеми повторами
	ErrTimeout = errors.New("request timeout")

	// ErrInvalidResponse возникает при получении ответа без value
	ErrInvalidResponse = errors.New("invalid RPC response")
)

// Error – ошибка одного узла с контекстом запроса
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ответы 429 с ErrRateLimit.
func (e *Error) Is(target error) bool {
	return target == ErrRateLimit && isRateLimit(e.Err)
}

// NewError оборачивает ошибку узла
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}

func isRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
