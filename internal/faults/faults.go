package faults

import (
	"context"
	"errors"
	"fmt"
)

// Class — класс ошибки, определяющий политику обработки.
type Class string

const (
	// ClassTransient — сетевые ошибки и таймауты; повторяются до потолка.
	ClassTransient Class = "TRANSIENT"

	// ClassPermanent — ошибки валидации и прав; не повторяются,
	// сразу терминальный провал.
	ClassPermanent Class = "PERMANENT"

	// ClassExhausted — потолок retry достигнут; терминальный провал,
	// отличимый от Permanent для аудита.
	ClassExhausted Class = "EXHAUSTED"

	// ClassCancelled — отмена пользователем; терминальный исход,
	// но не ошибка.
	ClassCancelled Class = "CANCELLED"

	// ClassInfrastructure — очередь или хранилище недоступны;
	// повторяется на уровне транспорта (requeue), не засчитывается
	// задаче как попытка.
	ClassInfrastructure Class = "INFRASTRUCTURE"
)

// Сигнальные ошибки для классификации через errors.Is.
var (
	// ErrTransient — маркер временной ошибки.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent — маркер постоянной ошибки.
	ErrPermanent = errors.New("permanent failure")

	// ErrExhausted — маркер исчерпания retry.
	ErrExhausted = errors.New("retry limit exhausted")

	// ErrCancelled — маркер отмены.
	ErrCancelled = errors.New("cancelled")

	// ErrInfrastructure — маркер инфраструктурной ошибки.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Transient оборачивает ошибку как временную.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Transientf создаёт временную ошибку из формата.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// Permanent оборачивает ошибку как постоянную.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Permanentf создаёт постоянную ошибку из формата.
func Permanentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

// Exhausted оборачивает последнюю ошибку после исчерпания retry.
func Exhausted(attempts int, last error) error {
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}

// Infrastructure оборачивает ошибку очереди или хранилища.
func Infrastructure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInfrastructure, err)
}

// Classify определяет класс ошибки.
//
// Неразмеченные ошибки считаются временными: внешние вызовы падают
// чаще по сетевым причинам, а потолок retry ограничивает цену
// ошибочной классификации.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrExhausted):
		return ClassExhausted
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	case errors.Is(err, ErrInfrastructure):
		return ClassInfrastructure
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		return ClassTransient
	}
}

// Retryable возвращает true, если ошибку имеет смысл повторять
// в рамках потолка retry задачи.
func Retryable(err error) bool {
	return Classify(err) == ClassTransient
}
