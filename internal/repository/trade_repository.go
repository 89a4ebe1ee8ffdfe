package repository

import (
	"database/sql"
	"time"

	"spottrader/internal/models"
)

// TradeRepository - работа с таблицей closed_trades
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create добавляет запись о закрытой сделке
func (r *TradeRepository) Create(trade *models.ClosedTrade) error {
	query := `
		INSERT INTO closed_trades (owner, exchange, symbol, action, amount, net_pnl, is_paper, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}

	return r.db.QueryRow(
		query,
		trade.Owner,
		trade.Exchange,
		trade.Symbol,
		trade.Action,
		trade.Amount,
		trade.NetPnl,
		trade.IsPaper,
		trade.CreatedAt,
	).Scan(&trade.ID)
}

// GetByOwner возвращает последние сделки владельца
func (r *TradeRepository) GetByOwner(owner string, limit int) ([]*models.ClosedTrade, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, owner, exchange, symbol, action, amount, net_pnl, is_paper, created_at
		FROM closed_trades
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.ClosedTrade
	for rows.Next() {
		trade := &models.ClosedTrade{}
		err := rows.Scan(
			&trade.ID,
			&trade.Owner,
			&trade.Exchange,
			&trade.Symbol,
			&trade.Action,
			&trade.Amount,
			&trade.NetPnl,
			&trade.IsPaper,
			&trade.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// Summary агрегирует сделки владельца начиная с since
func (r *TradeRepository) Summary(owner string, since time.Time) (*models.TradeSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE net_pnl > 0),
			COUNT(*) FILTER (WHERE net_pnl < 0),
			COALESCE(SUM(net_pnl), 0),
			COALESCE(SUM(amount), 0)
		FROM closed_trades
		WHERE owner = $1 AND created_at >= $2`

	summary := &models.TradeSummary{}
	err := r.db.QueryRow(query, owner, since).Scan(
		&summary.Trades,
		&summary.Wins,
		&summary.Losses,
		&summary.TotalPnl,
		&summary.Volume,
	)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// DeleteOlderThan удаляет сделки старше указанного времени
func (r *TradeRepository) DeleteOlderThan(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM closed_trades WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
