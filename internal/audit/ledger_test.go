package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStorage собирает записанные пачки в памяти.
type mockStorage struct {
	mu     sync.Mutex
	events []ReceiptEvent
}

func (m *mockStorage) WriteBatch(_ context.Context, events []ReceiptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *mockStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestLedger_FlushOnStop(t *testing.T) {
	storage := &mockStorage{}
	l := NewLedger(storage, zap.NewNop(), WithFlushInterval(time.Hour)) // Флаш только при остановке
	l.Start()

	for i := 0; i < 10; i++ {
		l.Log(ReceiptEvent{ID: "ev", ReceiptID: "poi_x", EventType: EventIssued})
	}
	l.Stop()

	// Drain Pattern: при остановке буфер дописывается полностью
	assert.Equal(t, 10, storage.total())
}

func TestLedger_FlushOnBatchSize(t *testing.T) {
	storage := &mockStorage{}
	l := NewLedger(storage, zap.NewNop(), WithBatchSize(5), WithFlushInterval(time.Hour))
	l.Start()

	for i := 0; i < 5; i++ {
		l.Log(ReceiptEvent{ID: "ev"})
	}

	// Пачка должна уйти по достижении лимита, без остановки
	require.Eventually(t, func() bool { return storage.total() == 5 },
		2*time.Second, 10*time.Millisecond)
	l.Stop()
}

func TestLedger_TimestampAlwaysSet(t *testing.T) {
	storage := &mockStorage{}
	l := NewLedger(storage, zap.NewNop())
	l.Start()

	l.Log(ReceiptEvent{ID: "ev"})
	l.Stop()

	require.Equal(t, 1, storage.total())
	assert.False(t, storage.events[0].Timestamp.IsZero())
}

func TestLedger_ConcurrentLogDuringStop(t *testing.T) {
	storage := &mockStorage{}
	l := NewLedger(storage, zap.NewNop())
	l.Start()

	// Log наперегонки со Stop: событие либо записывается, либо
	// отбрасывается, но отправки в закрытый канал (паники) быть не должно.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Log(ReceiptEvent{ID: "racer"})
		}()
	}
	l.Stop()
	wg.Wait()

	assert.LessOrEqual(t, storage.total(), 50)
}

func TestLedger_StopTwice(t *testing.T) {
	l := NewLedger(&mockStorage{}, zap.NewNop())
	l.Start()
	l.Stop()
	l.Stop() // Повторная остановка — no-op, без паники на закрытом канале
}

func TestLedger_LogAfterStop(t *testing.T) {
	storage := &mockStorage{}
	l := NewLedger(storage, zap.NewNop())
	l.Start()
	l.Stop()

	// Не должно ни паниковать, ни писать
	l.Log(ReceiptEvent{ID: "late"})
	assert.Equal(t, 0, storage.total())
}
