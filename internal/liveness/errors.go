package liveness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Таксономия ошибок сигналов живости
//
// Ошибки probe никогда не выходят за пределы Engine: они превращаются
// в "нет сигнала". Наружу (в API) попадают только ошибки ручных действий.
var (
	ErrUnreachable  = errors.New("endpoint unreachable")
	ErrTimeout      = errors.New("probe timed out")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInconsistent = errors.New("multiple candidates report a fresh heartbeat")
	ErrRemoteAction = errors.New("remote action failed")
	ErrNoBinding    = errors.New("bot API domain is not known yet")
	ErrDisposed     = errors.New("engine disposed")
)

// RemoteActionError - отказ удаленного start/stop с телом ответа
type RemoteActionError struct {
	Action     string
	StatusCode int
	Message    string
}

func (e *RemoteActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Action, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Action, e.StatusCode, e.Message)
}

// Unwrap позволяет errors.Is(err, ErrRemoteAction)
func (e *RemoteActionError) Unwrap() error {
	return ErrRemoteAction
}

// classifyStatus переводит HTTP статус в ошибку таксономии (nil для 2xx)
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUnreachable, code)
	}
}

// classifyTransport переводит ошибку транспорта в ErrTimeout/ErrUnreachable
//
// ctx - контекст с дедлайном probe: если истек именно он, это таймаут.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// isAlreadyInState - ответ бота вида "already stopped" / "already running"
func isAlreadyInState(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already ")
}

// errorLabel - короткая метка для метрик и LastError
func errorLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRemoteAction):
		return "remote_error"
	default:
		return "unreachable"
	}
}
