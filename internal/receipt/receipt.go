package receipt

/*
Файл receipt.go реализует центральную сущность платформы — Proof-of-Intent
квитанцию (Receipt). Квитанция фиксирует, что агент ДО выполнения действия
задекларировал: кто он, что делает, над каким ресурсом и зачем.

Ключевые свойства модели:
- Immutable-by-default: поля декларации заполняются один раз в конструкторе
  и дальше не меняются. Мутации возможны только через три явные операции:
  AddAuditEntry, AddComplianceTag, SetSignature.
- Append-only Audit Trail: записи только добавляются, порядок отражает
  реальный порядок вызовов. Конкурентные записи сериализуются мьютексом,
  чтобы ни одна запись не потерялась.
- Time-boxed: квитанция живет от creation_time до expiration_time (UTC).
- Self-contained: движок не держит реестра выданных квитанций — квитанция
  сама является доказательством.
*/

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RiskContext — грубая классификация серьезности действия.
type RiskContext string

const (
	RiskLow    RiskContext = "low"
	RiskMedium RiskContext = "medium"
	RiskHigh   RiskContext = "high"
)

const (
	// Version — версия схемы квитанции.
	Version = "1.0"

	// IDPrefix — префикс всех идентификаторов квитанций.
	IDPrefix = "poi_"

	// DefaultExpirationHours — окно жизни квитанции по умолчанию.
	DefaultExpirationHours = 24.0

	// TimeLayout — единый текстовый формат всех таймстемпов квитанции.
	// От него напрямую зависит воспроизводимость подписи, менять нельзя.
	TimeLayout = time.RFC3339Nano
)

// allowedRiskContexts проверяется и в конструкторе, и при валидации
// (защита от подмены значения в обход конструктора).
var allowedRiskContexts = map[RiskContext]struct{}{
	RiskLow:    {},
	RiskMedium: {},
	RiskHigh:   {},
}

// ValidRiskContext сообщает, входит ли значение в закрытое множество.
func ValidRiskContext(rc RiskContext) bool {
	_, ok := allowedRiskContexts[rc]
	return ok
}

// AuditEntry — одна запись append-only журнала квитанции.
type AuditEntry struct {
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details"`
	Timestamp string                 `json:"timestamp"`
}

// Params — входные данные конструктора New.
// Нулевые значения RiskContext и ExpirationHours заменяются дефолтами.
type Params struct {
	AgentID           string
	Action            string
	TargetResource    string
	DeclaredObjective string
	RiskContext       RiskContext
	ExpirationHours   float64
	AdditionalContext map[string]interface{}

	// ComplianceTags — стартовый набор меток соответствия. Теги входят в
	// подписываемую проекцию, поэтому задавать их нужно ДО подписи — то есть
	// здесь, при конструировании. Дубликаты схлопываются как в AddComplianceTag.
	ComplianceTags []string
}

// Receipt — подписываемая запись о задекларированном намерении агента.
//
// Поля декларации экспортированы для сериализации и чтения, но после
// конструктора считаются read-only. Изменяемое состояние (журнал, теги,
// подпись) закрыто и доступно только через методы.
type Receipt struct {
	ReceiptID         string                 `json:"receipt_id"`
	Version           string                 `json:"version"`
	AgentID           string                 `json:"agent_id"`
	Action            string                 `json:"action"`
	TargetResource    string                 `json:"target_resource"`
	DeclaredObjective string                 `json:"declared_objective"`
	RiskContext       RiskContext            `json:"risk_context"`
	CreationTime      string                 `json:"creation_time"`
	ExpirationTime    string                 `json:"expiration_time"`
	AdditionalContext map[string]interface{} `json:"additional_context"`

	mu                 sync.Mutex
	auditTrail         []AuditEntry
	complianceTags     []string
	signature          string
	signatureAlgorithm string
	certificateChain   []string
}

// New создает квитанцию и валидирует поля на границе.
// Возвращает ErrInvalidField при пустом обязательном поле,
// недопустимом risk_context или неположительном окне жизни.
func New(p Params) (*Receipt, error) {
	required := []struct{ name, val string }{
		{"agent_id", p.AgentID},
		{"action", p.Action},
		{"target_resource", p.TargetResource},
		{"declared_objective", p.DeclaredObjective},
	}
	for _, f := range required {
		if strings.TrimSpace(f.val) == "" {
			return nil, fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidField, f.name)
		}
	}

	rc := p.RiskContext
	if rc == "" {
		rc = RiskMedium
	}
	if !ValidRiskContext(rc) {
		return nil, fmt.Errorf("%w: risk context must be one of [low medium high], got %q", ErrInvalidField, rc)
	}

	hours := p.ExpirationHours
	if hours == 0 {
		hours = DefaultExpirationHours
	}
	if hours < 0 {
		return nil, fmt.Errorf("%w: expiration_hours must be positive, got %v", ErrInvalidField, hours)
	}

	// Таймстемпы фиксируются строками сразу при создании: повторная
	// канонизация одной и той же квитанции обязана давать те же байты.
	now := time.Now().UTC()
	expires := now.Add(time.Duration(hours * float64(time.Hour)))

	ctx := p.AdditionalContext
	if ctx == nil {
		ctx = map[string]interface{}{}
	}

	tags := make([]string, 0, len(p.ComplianceTags))
	for _, tag := range p.ComplianceTags {
		dup := false
		for _, t := range tags {
			if t == tag {
				dup = true
				break
			}
		}
		if !dup {
			tags = append(tags, tag)
		}
	}

	return &Receipt{
		ReceiptID:         IDPrefix + uuid.NewString(),
		Version:           Version,
		AgentID:           p.AgentID,
		Action:            p.Action,
		TargetResource:    p.TargetResource,
		DeclaredObjective: p.DeclaredObjective,
		RiskContext:       rc,
		CreationTime:      now.Format(TimeLayout),
		ExpirationTime:    expires.Format(TimeLayout),
		AdditionalContext: ctx,
		auditTrail:        []AuditEntry{},
		complianceTags:    tags,
	}, nil
}

// ExpiresAt парсит expiration_time. Ошибка возможна только для квитанции,
// собранной в обход конструктора (или испорченной при передаче).
func (r *Receipt) ExpiresAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, r.ExpirationTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad expiration_time %q", ErrInvalidField, r.ExpirationTime)
	}
	return t, nil
}

// IsExpired возвращает true, если квитанция уже истекла.
// Нечитаемый expiration_time трактуется как истекший (fail-closed).
func (r *Receipt) IsExpired() bool {
	return r.IsExpiredAt(time.Now().UTC())
}

// IsExpiredAt — вариант IsExpired с внешними часами (для верификатора и тестов).
func (r *Receipt) IsExpiredAt(now time.Time) bool {
	exp, err := r.ExpiresAt()
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// TimeUntilExpiration возвращает остаток жизни квитанции.
// Для истекшей квитанции второй результат false: остаток не определен,
// трактовать его как «ноль секунд» нельзя.
func (r *Receipt) TimeUntilExpiration() (time.Duration, bool) {
	now := time.Now().UTC()
	exp, err := r.ExpiresAt()
	if err != nil || !now.Before(exp) {
		return 0, false
	}
	return exp.Sub(now), true
}

// AddAuditEntry дописывает запись в журнал квитанции.
// Записи никогда не удаляются и не переупорядочиваются.
// Журнал входит в подписываемую проекцию: запись в уже подписанную
// квитанцию делает подпись несходящейся при проверке.
func (r *Receipt) AddAuditEntry(action string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	entry := AuditEntry{
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC().Format(TimeLayout),
	}

	r.mu.Lock()
	r.auditTrail = append(r.auditTrail, entry)
	r.mu.Unlock()
}

// AuditTrail возвращает копию журнала (сама квитанция остается владельцем).
func (r *Receipt) AuditTrail() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.auditTrail))
	copy(out, r.auditTrail)
	return out
}

// AddComplianceTag добавляет тег, если его еще нет. Идемпотентна:
// размер набора строго равен числу уникальных тегов.
// Теги входят в подписываемую проекцию: для подписанной квитанции теги
// задаются через Params.ComplianceTags до выпуска, а не этим методом.
func (r *Receipt) AddComplianceTag(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.complianceTags {
		if t == tag {
			return
		}
	}
	r.complianceTags = append(r.complianceTags, tag)
}

// ComplianceTags возвращает копию набора тегов в порядке добавления.
func (r *Receipt) ComplianceTags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.complianceTags))
	copy(out, r.complianceTags)
	return out
}

// SetSignature устанавливает подпись и алгоритм единой атомарной парой.
// Повторный вызов перезаписывает оба поля (переподписание).
func (r *Receipt) SetSignature(signature, algorithm string) {
	r.mu.Lock()
	r.signature = signature
	r.signatureAlgorithm = algorithm
	r.mu.Unlock()
}

// Signature возвращает подпись и алгоритм. Инвариант: либо оба значения
// заполнены, либо оба пустые.
func (r *Receipt) Signature() (signature, algorithm string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signature, r.signatureAlgorithm
}

// SetCertificateChain прикладывает цепочку сертификатов (PEM).
// Цепочка никогда не входит в подписываемые данные.
func (r *Receipt) SetCertificateChain(chain []string) {
	r.mu.Lock()
	r.certificateChain = append([]string(nil), chain...)
	r.mu.Unlock()
}

// CertificateChain возвращает копию приложенной цепочки (nil, если ее нет).
func (r *Receipt) CertificateChain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.certificateChain == nil {
		return nil
	}
	return append([]string(nil), r.certificateChain...)
}

// SignableData возвращает проекцию квитанции для подписи: все поля, КРОМЕ
// signature, signature_algorithm и certificate_chain. Именно эти данные
// канонизируются и подписываются — одинаково при выпуске и при проверке.
func (r *Receipt) SignableData() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signableDataLocked()
}

// signableDataLocked собирает проекцию под уже взятым мьютексом.
func (r *Receipt) signableDataLocked() map[string]interface{} {
	trail := make([]interface{}, 0, len(r.auditTrail))
	for _, e := range r.auditTrail {
		trail = append(trail, map[string]interface{}{
			"action":    e.Action,
			"details":   e.Details,
			"timestamp": e.Timestamp,
		})
	}
	tags := make([]interface{}, 0, len(r.complianceTags))
	for _, t := range r.complianceTags {
		tags = append(tags, t)
	}

	return map[string]interface{}{
		"receipt_id":         r.ReceiptID,
		"version":            r.Version,
		"agent_id":           r.AgentID,
		"action":             r.Action,
		"target_resource":    r.TargetResource,
		"declared_objective": r.DeclaredObjective,
		"risk_context":       string(r.RiskContext),
		"creation_time":      r.CreationTime,
		"expiration_time":    r.ExpirationTime,
		"additional_context": r.AdditionalContext,
		"audit_trail":        trail,
		"compliance_tags":    tags,
	}
}

// ToMap — полная сериализация квитанции (включая подпись) для хранения
// и передачи. Для подписи НЕ используется, см. SignableData.
func (r *Receipt) ToMap() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.signableDataLocked()
	if r.signature != "" {
		data["signature"] = r.signature
		data["signature_algorithm"] = r.signatureAlgorithm
	} else {
		data["signature"] = nil
		data["signature_algorithm"] = nil
	}
	if r.certificateChain != nil {
		data["certificate_chain"] = r.certificateChain
	} else {
		data["certificate_chain"] = nil
	}
	return data
}

// ToJSON сериализует квитанцию в JSON. indent <= 0 — компактный вывод.
func (r *Receipt) ToJSON(indent int) (string, error) {
	var (
		raw []byte
		err error
	)
	if indent > 0 {
		raw, err = json.MarshalIndent(r.ToMap(), "", strings.Repeat(" ", indent))
	} else {
		raw, err = json.Marshal(r.ToMap())
	}
	if err != nil {
		return "", fmt.Errorf("receipt: json marshal failed: %w", err)
	}
	return string(raw), nil
}

// String — короткая форма для логов.
func (r *Receipt) String() string {
	return fmt.Sprintf("Receipt(%s agent=%s action=%s target=%s risk=%s)",
		r.ReceiptID, r.AgentID, r.Action, r.TargetResource, r.RiskContext)
}
