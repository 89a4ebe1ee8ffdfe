package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"spottrader/internal/models"
)

// LotRepository - работа с таблицей open_lots
//
// Лоты только вставляются и удаляются: обновлений нет.
type LotRepository struct {
	db *sql.DB
}

// NewLotRepository создает новый экземпляр репозитория
func NewLotRepository(db *sql.DB) *LotRepository {
	return &LotRepository{db: db}
}

const lotColumns = `id, owner, exchange, symbol, quantity, entry_price, entry_notional,
		buy_fee_quote, buy_fee_base, buy_fee_currency, order_id, is_paper, created_at`

// Create сохраняет новый лот
func (r *LotRepository) Create(lot *models.Lot) error {
	query := `
		INSERT INTO open_lots (owner, exchange, symbol, quantity, entry_price, entry_notional,
			buy_fee_quote, buy_fee_base, buy_fee_currency, order_id, is_paper, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now()
	}

	return r.db.QueryRow(
		query,
		lot.Owner,
		lot.Exchange,
		lot.Symbol,
		lot.Quantity,
		lot.EntryPrice,
		lot.EntryNotional,
		lot.BuyFeeQuote,
		lot.BuyFeeBase,
		lot.BuyFeeCurrency,
		lot.OrderID,
		lot.IsPaper,
		lot.CreatedAt,
	).Scan(&lot.ID)
}

// GetByOwner возвращает все лоты владельца
func (r *LotRepository) GetByOwner(owner string) ([]*models.Lot, error) {
	return r.query(`SELECT `+lotColumns+` FROM open_lots WHERE owner = $1 ORDER BY created_at, id`, owner)
}

// GetByOwnerSymbol возвращает лоты владельца по инструменту на всех биржах
func (r *LotRepository) GetByOwnerSymbol(owner, symbol string) ([]*models.Lot, error) {
	return r.query(`SELECT `+lotColumns+` FROM open_lots WHERE owner = $1 AND symbol = $2 ORDER BY created_at, id`, owner, symbol)
}

// GetByGroup возвращает лоты одной группы стекинга
func (r *LotRepository) GetByGroup(key models.LotGroupKey) ([]*models.Lot, error) {
	return r.query(`SELECT `+lotColumns+` FROM open_lots
		WHERE owner = $1 AND exchange = $2 AND symbol = $3 AND is_paper = $4
		ORDER BY created_at, id`, key.Owner, key.Exchange, key.Symbol, key.IsPaper)
}

// GetAll возвращает лоты всех владельцев
func (r *LotRepository) GetAll() ([]*models.Lot, error) {
	return r.query(`SELECT ` + lotColumns + ` FROM open_lots ORDER BY created_at, id`)
}

// DeleteByIDs удаляет лоты по списку id.
// Удаляются ровно проданные лоты: BUY, пришедший во время продажи, остаётся.
func (r *LotRepository) DeleteByIDs(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.Exec(`DELETE FROM open_lots WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count возвращает количество открытых лотов
func (r *LotRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM open_lots`).Scan(&count)
	return count, err
}

func (r *LotRepository) query(query string, args ...interface{}) ([]*models.Lot, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		lot := &models.Lot{}
		err := rows.Scan(
			&lot.ID,
			&lot.Owner,
			&lot.Exchange,
			&lot.Symbol,
			&lot.Quantity,
			&lot.EntryPrice,
			&lot.EntryNotional,
			&lot.BuyFeeQuote,
			&lot.BuyFeeBase,
			&lot.BuyFeeCurrency,
			&lot.OrderID,
			&lot.IsPaper,
			&lot.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return lots, nil
}
