package revocation

/*
Файл manager.go реализует отзыв квитанций до истечения срока (аналог
kill-switch для агентов, но на уровне отдельных receipt_id).

Состояние живет в локальной потокобезопасной мапе — проверка на горячем
пути валидатора стоит одну RLock-операцию. Redis используется как общая
шина: при старте подтягивается текущее множество отозванных квитанций,
дальше обновления прилетают через Pub/Sub. Без Redis менеджер работает
как чисто локальный список.
*/

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	revokedSetKey    = "poi:receipts:revoked_set"
	revokeChannelKey = "poi:receipts:revoke"
)

// Checker — контракт для валидатора.
type Checker interface {
	IsRevoked(receiptID string) bool
}

type Manager struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

// NewManager создает менеджер отзыва. rdb может быть nil — тогда
// множество отозванных квитанций чисто локальное.
func NewManager(rdb *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{
		revoked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.Named("revocation"),
	}
}

// Init загружает текущее множество отозванных квитанций при старте сервиса
func (m *Manager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}
	ids, err := m.rdb.SMembers(ctx, revokedSetKey).Result()
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, id := range ids {
		m.revoked[id] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// MarkRevoked — внутренний метод для обновления мапы
func (m *Manager) MarkRevoked(receiptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[receiptID] = struct{}{}
}

func (m *Manager) IsRevoked(receiptID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, revoked := m.revoked[receiptID]
	return revoked
}

// Revoke публикует отзыв: пишет в общее множество и оповещает остальные
// инстансы. Локальная мапа обновляется сразу, не дожидаясь Pub/Sub.
func (m *Manager) Revoke(ctx context.Context, receiptID string) error {
	m.MarkRevoked(receiptID)
	if m.rdb == nil {
		return nil
	}
	if err := m.rdb.SAdd(ctx, revokedSetKey, receiptID).Err(); err != nil {
		return err
	}
	return m.rdb.Publish(ctx, revokeChannelKey, receiptID).Err()
}

// StartListener подписывается на Redis и обновляет состояние
func (m *Manager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	pubsub := m.rdb.Subscribe(ctx, revokeChannelKey)
	defer pubsub.Close()

	ch := pubsub.Channel()
	m.logger.Info("revocation listener started")

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				m.logger.Info("revocation channel closed")
				return
			}

			receiptID := msg.Payload
			m.logger.Warn("received REVOKE signal", zap.String("receipt_id", receiptID))

			// Обновляем локальный потокобезопасный кэш
			m.MarkRevoked(receiptID)

		case <-ctx.Done():
			m.logger.Info("revocation listener stopping by context...")
			return
		}
	}
}
