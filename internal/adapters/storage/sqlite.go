package storage

// sqlite.go — estado durable del maker.
//
// Estrategia:
//   - `positions`: UNA fila por token (UPSERT) con las shares actuales.
//     Write-through: se escribe tras cada fill y tras cada overwrite on-chain.
//   - `fills`: log append-only, dedup por trade_id (INSERT OR IGNORE —
//     el feed de usuario puede reentregar).
//   - `sessions`: una fila por sesión con el resumen final de PnL.
//
// Al reiniciar, LoadPositions devuelve el último estado conocido; el resync
// on-chain lo pisa minutos después, así que esto solo cubre la ventana de
// arranque.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

const schema = `
-- Shares actuales por token, una fila por token
CREATE TABLE IF NOT EXISTS positions (
    token_id   TEXT PRIMARY KEY,
    shares     REAL     NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL
);

-- Log append-only de fills aplicados
CREATE TABLE IF NOT EXISTS fills (
    trade_id     TEXT PRIMARY KEY,
    order_id     TEXT NOT NULL,
    token_id     TEXT NOT NULL,
    side         TEXT NOT NULL,
    price        REAL NOT NULL,
    size         REAL NOT NULL,
    fee_rate_bps REAL NOT NULL DEFAULT 0,
    filled_at    DATETIME NOT NULL
);

-- Resumen de cada sesión del maker
CREATE TABLE IF NOT EXISTS sessions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    slug          TEXT NOT NULL,
    started_at    DATETIME NOT NULL,
    ended_at      DATETIME NOT NULL,
    fills         INTEGER NOT NULL DEFAULT 0,
    orders_placed INTEGER NOT NULL DEFAULT 0,
    realized_pnl  REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_fills_token ON fills(token_id, filled_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_at ON sessions(ended_at DESC);
`

// SQLiteStorage implementa ports.MakerStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Usar ":memory:" en tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	return &SQLiteStorage{db: db}, nil
}

// ApplySchema crea las tablas si no existen.
func (s *SQLiteStorage) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// SavePosition hace upsert de las shares actuales de un token.
func (s *SQLiteStorage) SavePosition(ctx context.Context, tokenID string, shares float64, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (token_id, shares, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			shares     = excluded.shares,
			updated_at = excluded.updated_at
	`, tokenID, shares, updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %s: %w", tokenID, err)
	}
	return nil
}

// LoadPositions devuelve las shares persistidas por token.
func (s *SQLiteStorage) LoadPositions(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id, shares FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPositions: query: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]float64)
	for rows.Next() {
		var tokenID string
		var shares float64
		if err := rows.Scan(&tokenID, &shares); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: scan: %w", err)
		}
		positions[tokenID] = shares
	}
	return positions, rows.Err()
}

// SaveFill añade un fill al log. Reentregas del mismo trade_id se ignoran.
func (s *SQLiteStorage) SaveFill(ctx context.Context, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills
			(trade_id, order_id, token_id, side, price, size, fee_rate_bps, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.TradeID, f.OrderID, f.TokenID, string(f.Side), f.Price, f.Size, f.FeeRateBps, f.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("storage.SaveFill: %s: %w", f.TradeID, err)
	}
	return nil
}

// SaveSummary persiste el resumen final de la sesión.
func (s *SQLiteStorage) SaveSummary(ctx context.Context, sum ports.SessionSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (slug, started_at, ended_at, fills, orders_placed, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sum.Slug, sum.StartedAt.UTC(), sum.EndedAt.UTC(), sum.Fills, sum.OrdersPlaced, sum.RealizedPnL)
	if err != nil {
		return fmt.Errorf("storage.SaveSummary: %w", err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
