package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliableStorage оборачивает StorageInterface в контур надежности:
// Rate Limiter -> Circuit Breaker -> Retry. Кратковременные сбои базы
// не валят воркер леджера, а затяжные не превращаются в шторм ретраев.
type ReliableStorage struct {
	next    StorageInterface
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableStorage(next StorageInterface) *ReliableStorage {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "poi-ledger-storage",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует «закрыться»
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (перестаем дергать базу)
			return counts.ConsecutiveFailures > 5
		},
	})

	// Пакетных вставок много не бывает: лимит с запасом
	limiter := rate.NewLimiter(rate.Limit(50), 10)

	return &ReliableStorage{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (s *ReliableStorage) WriteBatch(ctx context.Context, events []ReceiptEvent) error {
	// 1. Rate Limiter
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)

		// 3. Retry c экспоненциальным бэкоффом
		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return s.next.WriteBatch(tCtx, events)
		})
		return nil, retryErr
	})

	return err
}
