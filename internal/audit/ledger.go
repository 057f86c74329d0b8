package audit

/*
Файл ledger.go реализует леджер событий квитанций — движок для сбора и
персистентности следа выпуска и проверок (внешний Audit Trail платформы,
не путать с журналом внутри самой квитанции).

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал между горячим путем
  (подпись/проверка) и записью в БД. Задержки базы не влияют на латентность
  выпуска квитанции.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке канал закрывается,
  воркер вычитывает остатки и делает финальный flush — события при
  перезапуске не теряются.
- Statelessness движка сохранен: леджер хранит события о квитанциях,
  а не сами квитанции.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются события.
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []ReceiptEvent) error
}

// Recorder — минимальный контракт для генератора/валидатора.
type Recorder interface {
	Log(event ReceiptEvent)
}

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
)

type Ledger struct {
	ch     chan ReceiptEvent // Буфер для асинхронности
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration
	bufferFill    prometheus.Gauge // Опциональная метрика заполненности

	// Защита от Log после остановки. RWMutex вместо атомарного флага:
	// между проверкой флага и отправкой в канал не должно быть окна,
	// в котором Stop успевает закрыть канал (иначе send паникует).
	closeMu sync.RWMutex
	closed  bool
}

// Option настраивает леджер при создании.
type Option func(*Ledger)

func WithBufferSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.ch = make(chan ReceiptEvent, n)
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

func WithBufferGauge(g prometheus.Gauge) Option {
	return func(l *Ledger) { l.bufferFill = g }
}

func NewLedger(repo StorageInterface, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		ch:            make(chan ReceiptEvent, defaultBufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "ledger")),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
// Повторный вызов безопасен.
func (l *Ledger) Stop() {
	// 1. Эксклюзивная блокировка дожидается всех Log, уже прошедших
	// проверку флага, и только потом закрывает канал.
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return
	}
	l.closed = true

	// 2. Закрываем канал (Drain Pattern): воркер вычитает остатки,
	// сделает финальный flush и завершится.
	l.logger.Info("stopping ledger: closing channel and flushing buffer...")
	close(l.ch)
	l.closeMu.Unlock()

	l.wg.Wait()
	l.logger.Info("ledger stopped gracefully")
}

func (l *Ledger) Log(event ReceiptEvent) {
	// Убеждаемся, что таймстемп всегда проставлен
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Держим RLock на все время отправки: Stop не закроет канал под нами.
	// Отправка неблокирующая, поэтому дедлока со Stop здесь нет.
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		l.logger.Warn("receipt event dropped: ledger is stopping", zap.String("id", event.ID))
		return
	}

	// Стратегия Load Shedding: при переполнении буфера событие уходит
	// в обычный лог, чтобы данные не пропали молча.
	select {
	case l.ch <- event:
		if l.bufferFill != nil {
			l.bufferFill.Set(float64(len(l.ch)))
		}
	default:
		l.logger.Error("ledger_buffer_overflow",
			zap.String("receipt_id", event.ReceiptID),
			zap.String("agent_id", event.AgentID),
			zap.String("event_type", event.EventType),
		)
	}
}

func (l *Ledger) worker() {
	defer l.wg.Done()

	batch := make([]ReceiptEvent, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := l.repo.WriteBatch(context.Background(), batch); err != nil {
				l.logger.Error("ledger flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
		if l.bufferFill != nil {
			l.bufferFill.Set(float64(len(l.ch)))
		}
	}

	for {
		select {
		case event, ok := <-l.ch:
			if !ok {
				// Канал закрыт в Stop() — это самодостаточный сигнал:
				// остатки уже вычитаны, остается финальный flush.
				flush()
				l.logger.Info("ledger worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
