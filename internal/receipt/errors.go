package receipt

import "errors"

// Типизированные ошибки ядра. Конструктор и канонизатор заворачивают их
// через %w, чтобы вызывающий код мог проверять errors.Is.
var (
	// ErrInvalidField — ошибка вызывающего: пустое обязательное поле или
	// недопустимый risk_context. Повторять запрос бессмысленно.
	ErrInvalidField = errors.New("invalid field")

	// ErrCanonicalization — в additional_context попало значение,
	// которое невозможно детерминированно сериализовать.
	ErrCanonicalization = errors.New("canonicalization failed")
)
