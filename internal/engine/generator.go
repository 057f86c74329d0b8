package engine

/*
Файл generator.go реализует выпуск подписанных Proof-of-Intent квитанций.

Конвейер одного выпуска: конструктор квитанции (валидация полей на границе)
-> канонизация подписываемой проекции -> подпись приватным ключом ->
атомарное проставление пары signature/algorithm. После этого генератор
квитанцию не трогает — выпуск одноразовый, реестра выданных квитанций нет.
*/

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/poi-engine/internal/audit"
	"github.com/xela07ax/poi-engine/internal/keys"
	"github.com/xela07ax/poi-engine/internal/receipt"
)

// ErrSigning — криптографическая операция не удалась. Квитанция при этом
// НЕ возвращается: молчаливого отката к неподписанным квитанциям нет.
var ErrSigning = errors.New("signing failed")

type GeneratorConfig struct {
	// DefaultAlgorithm — предпочитаемое семейство ключа ("" — первое доступное).
	DefaultAlgorithm keys.Algorithm

	// DefaultExpirationHours — окно жизни, если вызывающий не задал свое.
	DefaultExpirationHours float64

	// DefaultRiskContext — риск по умолчанию из политики платформы
	// ("" — дефолт самой модели, medium).
	DefaultRiskContext receipt.RiskContext

	// AttachCertificate — прикладывать ли сертификат семейства к квитанции.
	AttachCertificate bool
}

type Generator struct {
	keys    keys.Provider
	cfg     GeneratorConfig
	logger  *zap.Logger
	metrics *Metrics
	ledger  audit.Recorder // Опционален: nil — события не пишутся
}

func NewGenerator(provider keys.Provider, cfg GeneratorConfig, logger *zap.Logger, metrics *Metrics, ledger audit.Recorder) *Generator {
	if cfg.DefaultExpirationHours == 0 {
		cfg.DefaultExpirationHours = receipt.DefaultExpirationHours
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Generator{
		keys:    provider,
		cfg:     cfg,
		logger:  logger.Named("generator"),
		metrics: metrics,
		ledger:  ledger,
	}
}

// GenerateReceipt выпускает подписанную квитанцию.
// Ошибки: ErrInvalidField (плохой вход), ErrCanonicalization,
// keys.ErrKeyUnavailable (нет приватного ключа), ErrSigning.
func (g *Generator) GenerateReceipt(p receipt.Params) (*receipt.Receipt, error) {
	start := time.Now()

	if p.ExpirationHours == 0 {
		p.ExpirationHours = g.cfg.DefaultExpirationHours
	}
	if p.RiskContext == "" && g.cfg.DefaultRiskContext != "" {
		p.RiskContext = g.cfg.DefaultRiskContext
	}

	// 1. Конструируем квитанцию (валидация полей внутри)
	r, err := receipt.New(p)
	if err != nil {
		g.metrics.IssueErrorsTotal.WithLabelValues("invalid_field").Inc()
		return nil, err
	}

	// 2. Получаем ключ. Алгоритм определяется типом ключа, а не настройкой.
	signer, alg, err := g.keys.Signer(g.cfg.DefaultAlgorithm)
	if err != nil {
		g.metrics.IssueErrorsTotal.WithLabelValues("key_unavailable").Inc()
		return nil, err
	}

	// 3. Канонизируем подписываемую проекцию
	canonical, err := receipt.CanonicalBytes(r)
	if err != nil {
		g.metrics.IssueErrorsTotal.WithLabelValues("canonicalization").Inc()
		return nil, err
	}

	// 4. Подписываем канонические байты.
	// crypto.Signer сам выбирает схему: RSA -> PKCS#1 v1.5, EC -> ECDSA ASN.1.
	digest := sha256.Sum256(canonical)
	sigBytes, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		g.metrics.IssueErrorsTotal.WithLabelValues("signing").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	// 5. Атомарно проставляем пару подпись+алгоритм
	r.SetSignature(base64.StdEncoding.EncodeToString(sigBytes), string(alg))

	if g.cfg.AttachCertificate {
		if cert, certErr := g.keys.Certificate(alg); certErr == nil && cert != nil {
			r.SetCertificateChain([]string{keys.EncodeCertificatePEM(cert)})
		}
	}

	g.metrics.IssuedTotal.WithLabelValues(string(alg), string(r.RiskContext)).Inc()
	g.logger.Info("receipt issued",
		zap.String("receipt_id", r.ReceiptID),
		zap.String("agent_id", r.AgentID),
		zap.String("action", r.Action),
		zap.String("algorithm", string(alg)),
		zap.String("risk_context", string(r.RiskContext)),
	)

	if g.ledger != nil {
		g.ledger.Log(audit.ReceiptEvent{
			ID:          uuid.NewString(),
			ReceiptID:   r.ReceiptID,
			AgentID:     r.AgentID,
			Action:      r.Action,
			EventType:   audit.EventIssued,
			RiskContext: string(r.RiskContext),
			Algorithm:   string(alg),
			DurationMs:  time.Since(start).Milliseconds(),
		})
	}

	return r, nil
}
