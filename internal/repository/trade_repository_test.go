package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"autotrader/internal/models"
)

// ============================================================
// TradeRepository Tests
// ============================================================

func closedTrade() *models.Trade {
	pnl := 0.93
	closedAt := time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC)
	return &models.Trade{
		Symbol:     "BTC-USDT",
		Side:       models.SideBuy,
		Size:       0.001,
		EntryPrice: 66000,
		ClosePrice: 67000,
		Fee:        0.066,
		Status:     models.TradeStatusClosed,
		OpenedAt:   time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
		ClosedAt:   &closedAt,
		Pnl:        &pnl,
	}
}

func TestNewTradeRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewTradeRepository(db)
	if repo == nil {
		t.Fatal("NewTradeRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestTradeRepositoryMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS trades`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewTradeRepository(db)
	if err := repo.Migrate(); err != nil {
		t.Errorf("Migrate() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeRepositoryArchive(t *testing.T) {
	tests := []struct {
		name        string
		trade       *models.Trade
		mockSetup   func(mock sqlmock.Sqlmock)
		expectID    int
		expectError error
	}{
		{
			name:  "success",
			trade: closedTrade(),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO trades`).
					WithArgs("BTC-USDT", models.SideBuy, 0.001, float64(66000), float64(67000), 0.066, 0.93, sqlmock.AnyArg(), sqlmock.AnyArg(), "").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
			},
			expectID: 7,
		},
		{
			name: "open trade rejected",
			trade: &models.Trade{
				Symbol: "BTC-USDT",
				Side:   models.SideBuy,
				Status: models.TradeStatusOpen,
			},
			mockSetup:   func(mock sqlmock.Sqlmock) {},
			expectError: ErrTradeNotClosed,
		},
		{
			name:  "database error",
			trade: closedTrade(),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO trades`).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: errors.New("connection refused"),
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

			repo := NewTradeRepository(db)
			id, err := repo.Archive(tt.trade)

			if tt.expectError != nil {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if errors.Is(tt.expectError, ErrTradeNotClosed) && !errors.Is(err, ErrTradeNotClosed) {
					t.Errorf("error = %v, want ErrTradeNotClosed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Archive() error = %v", err)
			}
			if id != tt.expectID {
				t.Errorf("id = %d, want %d", id, tt.expectID)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryGetBySymbol(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	openedAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	closedAt := time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"symbol", "side", "size", "entry_price", "close_price", "fee", "pnl", "opened_at", "closed_at", "note"}).
		AddRow("BTC-USDT", "buy", 0.001, 66000.0, 67000.0, 0.066, 0.93, openedAt, closedAt, "").
		AddRow("BTC-USDT", "buy", 0.002, 65000.0, 64000.0, 0.13, -2.13, openedAt, closedAt, "stop loss")

	mock.ExpectQuery(`SELECT (.+) FROM trades WHERE symbol = \$1`).
		WithArgs("BTC-USDT", 100).
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetBySymbol("BTC-USDT", 0)
	if err != nil {
		t.Fatalf("GetBySymbol() error = %v", err)
	}

	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].Status != models.TradeStatusClosed {
		t.Errorf("Status = %q, want closed", trades[0].Status)
	}
	if *trades[0].Pnl != 0.93 {
		t.Errorf("Pnl = %v, want 0.93", *trades[0].Pnl)
	}
	if trades[1].Note != "stop loss" {
		t.Errorf("Note = %q, want stop loss", trades[1].Note)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeRepositoryTotalPnl(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	since := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(pnl\), 0\)`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12.34))

	repo := NewTradeRepository(db)
	total, err := repo.TotalPnl(since)
	if err != nil {
		t.Fatalf("TotalPnl() error = %v", err)
	}
	if total != 12.34 {
		t.Errorf("TotalPnl() = %v, want 12.34", total)
	}
}
