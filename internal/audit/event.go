package audit

import "time"

// Типы событий жизненного цикла квитанции.
const (
	EventIssued           = "RECEIPT_ISSUED"
	EventValidated        = "RECEIPT_VALIDATED"
	EventValidationFailed = "RECEIPT_VALIDATION_FAILED"
)

type ReceiptEvent struct {
	ID        string `json:"id"`         // UUID события
	ReceiptID string `json:"receipt_id"` // К какой квитанции относится
	AgentID   string `json:"agent_id"`   // Кто декларировал
	Action    string `json:"action"`     // Что декларировал

	// Контекст выпуска/проверки
	EventType   string `json:"event_type"`   // ISSUED / VALIDATED / VALIDATION_FAILED
	RiskContext string `json:"risk_context"` // low / medium / high
	Algorithm   string `json:"algorithm"`    // rsa / ecdsa

	// Результат
	Reason     string    `json:"reason"` // Код причины при отказе
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"` // Время операции
}
