package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"spottrader/internal/models"
)

// Ошибки репозитория правил
var (
	ErrRuleNotFound = errors.New("automation rule not found")
)

// RuleRepository - работа с таблицей automation_rules
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository создает новый экземпляр репозитория
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Get возвращает правило владельца для биржи и инструмента.
// Отсутствие правила - (nil, nil).
func (r *RuleRepository) Get(owner, exchange, symbol string) (*models.AutomationRule, error) {
	query := `
		SELECT id, owner, exchange, symbol, amount, enabled, updated_at
		FROM automation_rules
		WHERE owner = $1 AND exchange = $2 AND symbol = $3`

	rule := &models.AutomationRule{}
	err := r.db.QueryRow(query, owner, strings.ToLower(exchange), symbol).Scan(
		&rule.ID,
		&rule.Owner,
		&rule.Exchange,
		&rule.Symbol,
		&rule.Amount,
		&rule.Enabled,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// GetByOwner возвращает все правила владельца
func (r *RuleRepository) GetByOwner(owner string) ([]*models.AutomationRule, error) {
	query := `
		SELECT id, owner, exchange, symbol, amount, enabled, updated_at
		FROM automation_rules
		WHERE owner = $1
		ORDER BY exchange, symbol`

	rows, err := r.db.Query(query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.AutomationRule
	for rows.Next() {
		rule := &models.AutomationRule{}
		err := rows.Scan(
			&rule.ID,
			&rule.Owner,
			&rule.Exchange,
			&rule.Symbol,
			&rule.Amount,
			&rule.Enabled,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return rules, nil
}

// Upsert создаёт правило или обновляет существующее для той же тройки
func (r *RuleRepository) Upsert(rule *models.AutomationRule) error {
	query := `
		INSERT INTO automation_rules (owner, exchange, symbol, amount, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner, exchange, symbol)
		DO UPDATE SET amount = EXCLUDED.amount, enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
		RETURNING id`

	rule.Exchange = strings.ToLower(rule.Exchange)
	rule.UpdatedAt = time.Now()

	return r.db.QueryRow(
		query,
		rule.Owner,
		rule.Exchange,
		rule.Symbol,
		rule.Amount,
		rule.Enabled,
		rule.UpdatedAt,
	).Scan(&rule.ID)
}

// Delete удаляет правило
func (r *RuleRepository) Delete(owner, exchange, symbol string) error {
	result, err := r.db.Exec(
		`DELETE FROM automation_rules WHERE owner = $1 AND exchange = $2 AND symbol = $3`,
		owner, strings.ToLower(exchange), symbol,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrRuleNotFound
	}

	return nil
}
