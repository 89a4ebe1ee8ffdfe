package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"spottrader/internal/models"
)

// Ошибки репозитория бирж
var (
	ErrExchangeNotFound = errors.New("exchange account not found")
)

// ExchangeRepository - работа с таблицей exchange_accounts
//
// Ключи хранятся зашифрованными: шифрование и расшифровка на уровне сервиса.
type ExchangeRepository struct {
	db *sql.DB
}

// NewExchangeRepository создает новый экземпляр репозитория
func NewExchangeRepository(db *sql.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

// Upsert сохраняет ключи владельца для биржи, заменяя прежние
func (r *ExchangeRepository) Upsert(account *models.ExchangeAccount) error {
	query := `
		INSERT INTO exchange_accounts (owner, exchange, api_key, secret_key, passphrase, last_error, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, $6)
		ON CONFLICT (owner, exchange)
		DO UPDATE SET api_key = EXCLUDED.api_key, secret_key = EXCLUDED.secret_key,
			passphrase = EXCLUDED.passphrase, last_error = '', updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	account.Exchange = strings.ToLower(account.Exchange)
	account.UpdatedAt = time.Now()
	account.LastError = ""

	return r.db.QueryRow(
		query,
		account.Owner,
		account.Exchange,
		account.APIKey,
		account.SecretKey,
		account.Passphrase,
		account.UpdatedAt,
	).Scan(&account.ID, &account.CreatedAt)
}

// Get возвращает аккаунт владельца на бирже
func (r *ExchangeRepository) Get(owner, exchange string) (*models.ExchangeAccount, error) {
	query := `
		SELECT id, owner, exchange, api_key, secret_key, passphrase, last_error, updated_at, created_at
		FROM exchange_accounts
		WHERE owner = $1 AND exchange = $2`

	account := &models.ExchangeAccount{}
	err := r.db.QueryRow(query, owner, strings.ToLower(exchange)).Scan(
		&account.ID,
		&account.Owner,
		&account.Exchange,
		&account.APIKey,
		&account.SecretKey,
		&account.Passphrase,
		&account.LastError,
		&account.UpdatedAt,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExchangeNotFound
		}
		return nil, err
	}
	return account, nil
}

// GetByOwner возвращает все подключённые биржи владельца
func (r *ExchangeRepository) GetByOwner(owner string) ([]*models.ExchangeAccount, error) {
	query := `
		SELECT id, owner, exchange, api_key, secret_key, passphrase, last_error, updated_at, created_at
		FROM exchange_accounts
		WHERE owner = $1
		ORDER BY exchange`

	rows, err := r.db.Query(query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.ExchangeAccount
	for rows.Next() {
		account := &models.ExchangeAccount{}
		err := rows.Scan(
			&account.ID,
			&account.Owner,
			&account.Exchange,
			&account.APIKey,
			&account.SecretKey,
			&account.Passphrase,
			&account.LastError,
			&account.UpdatedAt,
			&account.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// Delete отключает биржу владельца
func (r *ExchangeRepository) Delete(owner, exchange string) error {
	result, err := r.db.Exec(
		`DELETE FROM exchange_accounts WHERE owner = $1 AND exchange = $2`,
		owner, strings.ToLower(exchange),
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrExchangeNotFound
	}

	return nil
}

// UpdateLastError сохраняет последнюю ошибку биржи (пустая строка - сброс)
func (r *ExchangeRepository) UpdateLastError(owner, exchange, errMsg string) error {
	_, err := r.db.Exec(
		`UPDATE exchange_accounts SET last_error = $1, updated_at = $2 WHERE owner = $3 AND exchange = $4`,
		errMsg, time.Now(), owner, strings.ToLower(exchange),
	)
	return err
}
