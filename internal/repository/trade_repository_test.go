package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"spottrader/internal/models"
)

// ============================================================
// TradeRepository Tests
// ============================================================

func TestTradeRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO closed_trades`).
					WithArgs("alice", "bybit", "ETH/USDT", "SELL", 120.0, 39.0, false, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
			},
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO closed_trades`).
					WillReturnError(errors.New("disk full"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			trade := &models.ClosedTrade{
				Owner: "alice", Exchange: "bybit", Symbol: "ETH/USDT",
				Action: models.ActionSell, Amount: 120, NetPnl: 39,
			}
			repo := NewTradeRepository(db)
			err = repo.Create(trade)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if trade.ID != 11 {
					t.Errorf("expected ID 11, got %d", trade.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryGetByOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "owner", "exchange", "symbol", "action", "amount", "net_pnl", "is_paper", "created_at"}).
		AddRow(2, "alice", "okx", "SOL/USDT", "SELL", 60.0, -1.5, true, now).
		AddRow(1, "alice", "okx", "SOL/USDT", "SELL", 55.0, 4.0, true, now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT .+ FROM closed_trades WHERE owner = \$1`).
		WithArgs("alice", 100).
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetByOwner("alice", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].NetPnl != -1.5 {
		t.Errorf("expected first trade pnl -1.5, got %v", trades[0].NetPnl)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositorySummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`SELECT .+ FROM closed_trades WHERE owner = \$1 AND created_at >= \$2`).
		WithArgs("alice", since).
		WillReturnRows(sqlmock.NewRows([]string{"count", "wins", "losses", "pnl", "volume"}).
			AddRow(4, 3, 1, 12.5, 400.0))

	repo := NewTradeRepository(db)
	summary, err := repo.Summary("alice", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Trades != 4 || summary.Wins != 3 || summary.Losses != 1 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	if summary.WinRate() != 75 {
		t.Errorf("expected win rate 75, got %v", summary.WinRate())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().Add(-90 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM closed_trades WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))

	repo := NewTradeRepository(db)
	count, err := repo.DeleteOlderThan(cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 deleted, got %d", count)
	}
}
