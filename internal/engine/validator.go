package engine

/*
Файл validator.go реализует проверку Proof-of-Intent квитанций.

Проверка состоит из трех независимых слоев, и все обязаны пройти:
 1. Структурный — поля на месте и корректны (защита от подмены значений
    в обход конструктора);
 2. Временной — квитанция не истекла, с допуском на рассинхронизацию часов
    издателя и проверяющего (clock skew);
 3. Криптографический — канонические байты пересобираются заново и подпись
    сверяется с публичным ключом семейства из signature_algorithm.

Исход «невалидна» (bool + код причины) отличается от «непроверяема»
(типизированная ошибка: нет ключевого материала или структура битая
настолько, что проверку нельзя даже начать).
*/

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/poi-engine/internal/audit"
	"github.com/xela07ax/poi-engine/internal/keys"
	"github.com/xela07ax/poi-engine/internal/receipt"
	"github.com/xela07ax/poi-engine/internal/revocation"
)

// ErrMalformedReceipt — структура квитанции не позволяет даже начать проверку.
var ErrMalformedReceipt = errors.New("malformed receipt")

// DefaultClockSkew — допуск на дрейф часов между издателем и проверяющим.
const DefaultClockSkew = 600 * time.Second

// Reason — машиночитаемый код исхода проверки.
type Reason string

const (
	ReasonOK                   Reason = "ok"
	ReasonMissingField         Reason = "missing_field"
	ReasonBadRiskContext       Reason = "bad_risk_context"
	ReasonBadTimestamps        Reason = "bad_timestamps"
	ReasonExpired              Reason = "expired"
	ReasonRevoked              Reason = "revoked"
	ReasonSignatureMissing     Reason = "signature_missing"
	ReasonSignatureMismatch    Reason = "signature_mismatch"
	ReasonUnsupportedAlgorithm Reason = "unsupported_algorithm"
	ReasonCertificateMissing   Reason = "certificate_missing"
)

// Result — исход проверки одной квитанции.
type Result struct {
	ReceiptID string
	Valid     bool
	Reason    Reason
}

type ValidatorConfig struct {
	// ClockSkew — грейс-период после номинального истечения (0 — дефолт 600с).
	ClockSkew time.Duration

	// RequireCertChain — требовать приложенную цепочку сертификатов.
	// Выключено по умолчанию, включается в проде.
	RequireCertChain bool
}

type Validator struct {
	keys    keys.Provider
	cfg     ValidatorConfig
	revoked revocation.Checker // Опционален: nil — отзыв не проверяется
	logger  *zap.Logger
	metrics *Metrics
	ledger  audit.Recorder // Опционален
}

func NewValidator(provider keys.Provider, cfg ValidatorConfig, logger *zap.Logger, metrics *Metrics, ledger audit.Recorder, revoked revocation.Checker) *Validator {
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Validator{
		keys:    provider,
		cfg:     cfg,
		revoked: revoked,
		logger:  logger.Named("validator"),
		metrics: metrics,
		ledger:  ledger,
	}
}

// ValidateReceipt возвращает true, если квитанция прошла все три слоя.
// Ошибка означает «непроверяема» (нет ключа / битая структура), не «невалидна».
func (v *Validator) ValidateReceipt(r *receipt.Receipt) (bool, error) {
	res, err := v.Check(r)
	return res.Valid, err
}

// Check — как ValidateReceipt, но с кодом причины.
func (v *Validator) Check(r *receipt.Receipt) (Result, error) {
	start := time.Now()
	res, err := v.check(r)
	v.observe(r, res, err, time.Since(start))
	return res, err
}

func (v *Validator) check(r *receipt.Receipt) (Result, error) {
	if r == nil {
		return Result{}, fmt.Errorf("%w: nil receipt", ErrMalformedReceipt)
	}
	res := Result{ReceiptID: r.ReceiptID}

	// --- 1. Структурный слой ---
	for _, val := range []string{r.ReceiptID, r.Version, r.AgentID, r.Action, r.TargetResource, r.DeclaredObjective} {
		if strings.TrimSpace(val) == "" {
			res.Reason = ReasonMissingField
			return res, nil
		}
	}
	// risk_context проверяется повторно: конструктор могли обойти
	if !receipt.ValidRiskContext(r.RiskContext) {
		res.Reason = ReasonBadRiskContext
		return res, nil
	}

	created, errC := time.Parse(time.RFC3339Nano, r.CreationTime)
	expires, errE := r.ExpiresAt()
	if errC != nil || errE != nil || !expires.After(created) {
		res.Reason = ReasonBadTimestamps
		return res, nil
	}

	sig, alg := r.Signature()
	if (sig == "") != (alg == "") {
		// Инвариант «оба или ни одного» нарушен — подделка
		res.Reason = ReasonSignatureMissing
		return res, nil
	}

	// --- 2. Временной слой ---
	// Квитанция в пределах ClockSkew после номинального истечения
	// все еще принимается: часы издателя и проверяющего не обязаны совпадать.
	if time.Now().UTC().After(expires.Add(v.cfg.ClockSkew)) {
		res.Reason = ReasonExpired
		return res, nil
	}

	// --- 2.5. Отзыв ---
	if v.revoked != nil && v.revoked.IsRevoked(r.ReceiptID) {
		res.Reason = ReasonRevoked
		return res, nil
	}

	// --- 3. Криптографический слой ---
	if sig == "" {
		res.Reason = ReasonSignatureMissing
		return res, nil
	}

	algorithm := keys.Algorithm(alg)
	pub, err := v.keys.Verifier(algorithm)
	if err != nil {
		if errors.Is(err, keys.ErrUnsupportedAlgorithm) {
			res.Reason = ReasonUnsupportedAlgorithm
			return res, nil
		}
		// Нет публичного ключа — квитанцию невозможно проверить.
		// Это НЕ то же самое, что «невалидна».
		return res, err
	}

	if v.cfg.RequireCertChain && len(r.CertificateChain()) == 0 {
		res.Reason = ReasonCertificateMissing
		return res, nil
	}

	canonical, err := receipt.CanonicalBytes(r)
	if err != nil {
		return res, err
	}

	sigBytes, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		res.Reason = ReasonSignatureMismatch
		return res, nil
	}

	digest := sha256.Sum256(canonical)
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sigBytes) != nil {
			res.Reason = ReasonSignatureMismatch
			return res, nil
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest[:], sigBytes) {
			res.Reason = ReasonSignatureMismatch
			return res, nil
		}
	default:
		res.Reason = ReasonUnsupportedAlgorithm
		return res, nil
	}

	res.Valid = true
	res.Reason = ReasonOK
	return res, nil
}

// observe — метрики, лог и событие леджера по итогам одной проверки.
func (v *Validator) observe(r *receipt.Receipt, res Result, err error, took time.Duration) {
	v.metrics.ValidationDuration.Observe(took.Seconds())

	outcome := "valid"
	reason := string(res.Reason)
	switch {
	case err != nil:
		outcome = "unverifiable"
		reason = err.Error()
	case !res.Valid:
		outcome = "invalid"
	}
	v.metrics.ValidationTotal.WithLabelValues(outcome).Inc()

	if r == nil {
		return
	}

	if outcome != "valid" {
		v.logger.Warn("receipt validation failed",
			zap.String("receipt_id", r.ReceiptID),
			zap.String("outcome", outcome),
			zap.String("reason", reason),
		)
	}

	if v.ledger != nil {
		eventType := audit.EventValidated
		if outcome != "valid" {
			eventType = audit.EventValidationFailed
		}
		_, alg := r.Signature()
		v.ledger.Log(audit.ReceiptEvent{
			ID:          uuid.NewString(),
			ReceiptID:   r.ReceiptID,
			AgentID:     r.AgentID,
			Action:      r.Action,
			EventType:   eventType,
			RiskContext: string(r.RiskContext),
			Algorithm:   alg,
			Reason:      reason,
			DurationMs:  took.Milliseconds(),
		})
	}
}

// batchWorkers — ширина пула для пакетной проверки.
const batchWorkers = 8

// ValidateBatch проверяет каждую квитанцию независимо: отказ одной не
// прерывает остальные. Проверки идут параллельно (общих изменяемых данных
// нет, ключи read-only), но результат детерминирован и совпадает с
// последовательным прогоном. Ключ результата — receipt_id; дубликаты
// идентификаторов различаются суффиксом "#<индекс>", чтобы на каждую
// входную квитанцию пришелся ровно один результат.
func (v *Validator) ValidateBatch(receipts []*receipt.Receipt) map[string]bool {
	valid := make([]bool, len(receipts))

	var wg sync.WaitGroup
	sem := make(chan struct{}, batchWorkers)
	for i, r := range receipts {
		wg.Add(1)
		go func(i int, r *receipt.Receipt) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Непроверяемые в пакете считаются невалидными: пакет должен
			// пройти до конца при любых обстоятельствах.
			res, err := v.Check(r)
			valid[i] = err == nil && res.Valid
		}(i, r)
	}
	wg.Wait()

	// Сборка результата — последовательная, чтобы дубликаты receipt_id
	// получали детерминированные ключи.
	results := make(map[string]bool, len(receipts))
	seen := make(map[string]int, len(receipts))
	for i, r := range receipts {
		id := "<nil>"
		if r != nil {
			id = r.ReceiptID
		}
		key := id
		if n := seen[id]; n > 0 {
			key = fmt.Sprintf("%s#%d", id, i)
		}
		seen[id]++
		results[key] = valid[i]
	}
	return results
}

// Summary — агрегат по пакету проверок.
type Summary struct {
	Total          int     `json:"total"`
	ValidCount     int     `json:"valid_count"`
	InvalidCount   int     `json:"invalid_count"`
	ValidationRate float64 `json:"validation_rate"`
}

// ValidationSummary сводит пакет к агрегату. Пустой вход — rate 0, без
// деления на ноль.
func (v *Validator) ValidationSummary(receipts []*receipt.Receipt) Summary {
	results := v.ValidateBatch(receipts)

	s := Summary{Total: len(receipts)}
	for _, ok := range results {
		if ok {
			s.ValidCount++
		} else {
			s.InvalidCount++
		}
	}
	if s.Total > 0 {
		s.ValidationRate = float64(s.ValidCount) / float64(s.Total)
	}
	return s
}
