package main

/*
poi-demo — тонкий потребитель движка квитанций: выпускает квитанции для
нескольких сценариев, проверяет их по одной и пакетом, печатает сводку.
Ядро (генератор/валидатор) при этом ничего не знает ни о CLI, ни о выводе.
*/

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/poi-engine/internal/audit"
	"github.com/xela07ax/poi-engine/internal/engine"
	"github.com/xela07ax/poi-engine/internal/infra"
	"github.com/xela07ax/poi-engine/internal/keys"
	"github.com/xela07ax/poi-engine/internal/receipt"
	"github.com/xela07ax/poi-engine/internal/repository/postgres"
	"github.com/xela07ax/poi-engine/internal/revocation"
)

func main() {
	// 1. Инфраструктура и ресурсы
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Ключевой материал загружается один раз при старте
	provider, err := keys.NewFileProvider(cfg.KeyPaths(), logger)
	if err != nil {
		logger.Fatal("failed to load key material", zap.Error(err))
	}

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	if cfg.Metrics.Addr != "" {
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Fatal("metrics endpoint failed",
				zap.Error(http.ListenAndServe(cfg.Metrics.Addr, nil)))
		}()
	}

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Леджер событий (опционален: без storage.url события не пишутся)
	var ledger *audit.Ledger
	var recorder audit.Recorder
	if cfg.Storage.URL != "" {
		repo := postgres.NewLedgerRepo(cfg.Storage.URL)
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Ping(pingCtx); err != nil {
			logger.Fatal("ledger database unreachable", zap.Error(err))
		}
		pingCancel()

		ledger = audit.NewLedger(
			audit.NewReliableStorage(repo),
			logger,
			audit.WithBufferSize(cfg.Storage.BufferSize),
			audit.WithFlushInterval(cfg.Storage.FlushInterval),
			audit.WithBufferGauge(metrics.LedgerBufferFill),
		)
		ledger.Start()
		recorder = ledger
	}

	// 3. Шина отзыва квитанций (опциональна)
	var revoked revocation.Checker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rm := revocation.NewManager(rdb, logger)
		if err := rm.Init(appCtx); err != nil {
			logger.Fatal("failed to init revocation manager", zap.Error(err))
		}
		go rm.StartListener(appCtx)
		revoked = rm
	}

	// 4. Ядро
	generator := engine.NewGenerator(provider, engine.GeneratorConfig{
		DefaultAlgorithm:       keys.Algorithm(cfg.PoI.DefaultAlgorithm),
		DefaultExpirationHours: cfg.PoI.ExpirationHours,
		DefaultRiskContext:     receipt.RiskContext(cfg.PoI.DefaultRiskContext),
		AttachCertificate:      cfg.PoI.AttachCertificate,
	}, logger, metrics, recorder)

	validator := engine.NewValidator(provider, engine.ValidatorConfig{
		ClockSkew:        cfg.PoI.ClockSkew,
		RequireCertChain: cfg.PoI.RequireCertChain,
	}, logger, metrics, recorder, revoked)

	// 5. Сценарии выпуска
	scenarios := []receipt.Params{
		{
			AgentID:           "data_agent_001",
			Action:            "database_query",
			TargetResource:    "customer_database",
			DeclaredObjective: "Fetch customer information for billing",
			RiskContext:       receipt.RiskMedium,
			AdditionalContext: map[string]interface{}{"request_id": "req_001"},
			ComplianceTags:    []string{"SOC2"},
		},
		{
			AgentID:           "api_agent_001",
			Action:            "http_request",
			TargetResource:    "https://api.payment.example/transactions",
			DeclaredObjective: "Process payment transaction",
			RiskContext:       receipt.RiskHigh,
			AdditionalContext: map[string]interface{}{"request_id": "req_002"},
			ComplianceTags:    []string{"SOC2", "PCI-DSS"},
		},
		{
			AgentID:           "file_agent_001",
			Action:            "file_read",
			TargetResource:    "/var/log/system.log",
			DeclaredObjective: "Analyze system performance",
			RiskContext:       receipt.RiskLow,
			AdditionalContext: map[string]interface{}{"request_id": "req_003"},
			ComplianceTags:    []string{"SOC2"},
		},
	}

	receipts := make([]*receipt.Receipt, 0, len(scenarios))
	for _, p := range scenarios {
		r, err := generator.GenerateReceipt(p)
		if err != nil {
			logger.Fatal("issuance failed", zap.String("agent_id", p.AgentID), zap.Error(err))
		}
		// Подписанную квитанцию больше не трогаем: журнал и теги входят в
		// подписываемые данные, любая мутация после выпуска ломает подпись.
		receipts = append(receipts, r)

		if left, ok := r.TimeUntilExpiration(); ok {
			logger.Info("receipt ready",
				zap.String("receipt_id", r.ReceiptID),
				zap.Duration("expires_in", left),
			)
		}
	}

	// 6. Проверки: по одной и пакетом
	for _, r := range receipts {
		ok, err := validator.ValidateReceipt(r)
		if err != nil {
			logger.Error("receipt unverifiable", zap.String("receipt_id", r.ReceiptID), zap.Error(err))
			continue
		}
		logger.Info("receipt validated", zap.String("receipt_id", r.ReceiptID), zap.Bool("valid", ok))
	}

	summary := validator.ValidationSummary(receipts)
	logger.Info("batch validation summary",
		zap.Int("total", summary.Total),
		zap.Int("valid", summary.ValidCount),
		zap.Int("invalid", summary.InvalidCount),
		zap.Float64("rate", summary.ValidationRate),
	)

	// 7. Graceful Shutdown: дожимаем буфер леджера
	if ledger != nil {
		ledger.Stop()
	}
	logger.Info("poi-demo finished")
}
