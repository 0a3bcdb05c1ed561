// Package repository содержит архив закрытых сделок в PostgreSQL.
// Источник правды - JSON журнал; архив - зеркало для аналитики и
// долгосрочного хранения, его недоступность не блокирует торговлю.
package repository

import (
	"database/sql"
	"errors"
	"time"

	"autotrader/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrTradeNotClosed = errors.New("trade is not closed")
)

// TradeRepository - работа с таблицей trades
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Migrate создаёт таблицу архива, если её нет
func (r *TradeRepository) Migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS trades (
			id          SERIAL PRIMARY KEY,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			size        DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			close_price DOUBLE PRECISION NOT NULL,
			fee         DOUBLE PRECISION NOT NULL,
			pnl         DOUBLE PRECISION NOT NULL,
			opened_at   TIMESTAMPTZ NOT NULL,
			closed_at   TIMESTAMPTZ NOT NULL,
			note        TEXT NOT NULL DEFAULT ''
		)`

	_, err := r.db.Exec(query)
	return err
}

// Archive сохраняет закрытую сделку в архив
func (r *TradeRepository) Archive(trade *models.Trade) (int, error) {
	if trade.Status != models.TradeStatusClosed || trade.Pnl == nil || trade.ClosedAt == nil {
		return 0, ErrTradeNotClosed
	}

	query := `
		INSERT INTO trades (symbol, side, size, entry_price, close_price, fee, pnl, opened_at, closed_at, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id int
	err := r.db.QueryRow(
		query,
		trade.Symbol,
		trade.Side,
		trade.Size,
		trade.EntryPrice,
		trade.ClosePrice,
		trade.Fee,
		*trade.Pnl,
		trade.OpenedAt,
		*trade.ClosedAt,
		trade.Note,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetBySymbol возвращает архивные сделки по символу, свежие первыми
func (r *TradeRepository) GetBySymbol(symbol string, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT symbol, side, size, entry_price, close_price, fee, pnl, opened_at, closed_at, note
		FROM trades
		WHERE symbol = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetRecent возвращает последние архивные сделки по всем символам
func (r *TradeRepository) GetRecent(limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT symbol, side, size, entry_price, close_price, fee, pnl, opened_at, closed_at, note
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// TotalPnl возвращает суммарный P&L архива за период
func (r *TradeRepository) TotalPnl(since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE closed_at >= $1`

	var total float64
	if err := r.db.QueryRow(query, since).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// scanTrades читает строки архива в записи журнала
func scanTrades(rows *sql.Rows) ([]models.Trade, error) {
	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var pnl float64
		var closedAt time.Time
		if err := rows.Scan(
			&t.Symbol,
			&t.Side,
			&t.Size,
			&t.EntryPrice,
			&t.ClosePrice,
			&t.Fee,
			&pnl,
			&t.OpenedAt,
			&closedAt,
			&t.Note,
		); err != nil {
			return nil, err
		}
		t.Status = models.TradeStatusClosed
		t.Pnl = &pnl
		t.ClosedAt = &closedAt
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
