package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xela07ax/poi-engine/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(connString string) *LedgerRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main соединение дополнительно проверяется через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &LedgerRepo{db: db}
}

// Ping проверяет доступность базы при старте
func (r *LedgerRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WriteBatch сохраняет пачку событий квитанций одним INSERT.
func (r *LedgerRepo) WriteBatch(ctx context.Context, events []audit.ReceiptEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице receipt_events
	numFields := 10
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			e.ID, e.ReceiptID, e.AgentID, e.Action,
			e.EventType, e.RiskContext, e.Algorithm, e.Reason,
			e.DurationMs, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO receipt_events (id, receipt_id, agent_id, action, event_type, risk_context, algorithm, reason, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}
