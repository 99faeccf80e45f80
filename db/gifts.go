package db

import (
	"context"
	"database/sql"
	"time"
)

// GiftCredit is one reconciliation-log row: every gift outcome, including
// timeouts and anonymous gifts, lands here so missed attributions can be
// reconciled manually.
type GiftCredit struct {
	ID        int64
	EventID   string
	Gifter    string
	Quantity  int
	Status    string
	Points    int
	CreatedAt time.Time
}

// InsertGiftCredit records one gift outcome.
func InsertGiftCredit(ctx context.Context, dbx *sql.DB, eventID, gifter string, quantity int, status string, points int) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO gift_credits(event_id, gifter, quantity, status, points) VALUES($1,$2,$3,$4,$5)`,
		eventID, gifter, quantity, status, points)
	return err
}

// RecentGiftCredits returns the latest n credit rows, newest first.
func RecentGiftCredits(ctx context.Context, dbx *sql.DB, n int) ([]GiftCredit, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, COALESCE(event_id,''), gifter, quantity, status, points, created_at
		 FROM gift_credits ORDER BY created_at DESC, id DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GiftCredit
	for rows.Next() {
		var g GiftCredit
		if err := rows.Scan(&g.ID, &g.EventID, &g.Gifter, &g.Quantity, &g.Status, &g.Points, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AddPoints credits points to a username's balance, creating the row on first award.
func AddPoints(ctx context.Context, dbx *sql.DB, username string, points int) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO points(username, balance, updated_at) VALUES($1,$2,NOW())
		 ON CONFLICT(username) DO UPDATE SET balance=points.balance+EXCLUDED.balance, updated_at=NOW()`,
		username, points)
	return err
}

// GetPoints returns a username's balance, zero when absent.
func GetPoints(ctx context.Context, dbx *sql.DB, username string) (int64, error) {
	var balance int64
	err := dbx.QueryRowContext(ctx, `SELECT balance FROM points WHERE username=$1`, username).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
