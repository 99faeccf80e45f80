// Package points acts on gift attribution outcomes: it credits the points
// ledger for resolved gifters, skips anonymous gifts, and writes every
// outcome (including timeouts) to the gift_credits reconciliation log.
package points

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/onnwee/kickbot/db"
	"github.com/onnwee/kickbot/events"
)

// Awarder consumes gift outcomes. A nil DB runs in log-only mode, which keeps
// the bot usable without Postgres (nothing is persisted, awards are logged).
type Awarder struct {
	DB           *sql.DB
	Monitor      *events.Monitor
	PointsPerSub int
}

// NewAwarder returns an awarder crediting pointsPerSub per gifted sub.
func NewAwarder(dbx *sql.DB, monitor *events.Monitor, pointsPerSub int) *Awarder {
	return &Awarder{DB: dbx, Monitor: monitor, PointsPerSub: pointsPerSub}
}

// AwardImmediate handles a gift the payload parser resolved synchronously.
// gifter may be the Anonymous sentinel.
func (a *Awarder) AwardImmediate(ctx context.Context, eventID, gifter string, quantity int) {
	if gifter == events.AnonymousGifter {
		if a.Monitor != nil {
			a.Monitor.RecordAnonymousGift()
		}
		a.logCredit(ctx, eventID, gifter, quantity, string(events.StatusAnonymous), 0)
		slog.Info("anonymous gift, skipping award", slog.Int("quantity", quantity), slog.String("component", "points"))
		return
	}
	a.credit(ctx, eventID, gifter, quantity, string(events.StatusCorrelated))
}

// AwaitCorrelation blocks on a correlation handle and acts on the outcome.
// Run it in its own goroutine; the handle always resolves (by match, timeout,
// or shutdown).
func (a *Awarder) AwaitCorrelation(ctx context.Context, eventID string, handle <-chan events.CorrelationResult) {
	res, ok := <-handle
	if !ok {
		return
	}
	switch res.Status {
	case events.StatusTimeout:
		// No award; the reconciliation row is what a human works from.
		a.logCredit(ctx, eventID, res.Gifter, res.Quantity, string(res.Status), 0)
		slog.Warn("gift attribution timed out, no points awarded", slog.String("event_id", eventID), slog.String("component", "points"))
	case events.StatusAnonymous:
		// Already counted by the correlator when it resolved the match.
		a.logCredit(ctx, eventID, res.Gifter, res.Quantity, string(res.Status), 0)
		slog.Info("anonymous gift correlated, skipping award", slog.Int("quantity", res.Quantity), slog.String("component", "points"))
	case events.StatusCorrelated:
		a.credit(ctx, eventID, res.Gifter, res.Quantity, string(res.Status))
	}
}

func (a *Awarder) credit(ctx context.Context, eventID, gifter string, quantity int, status string) {
	if quantity < 1 {
		quantity = 1
	}
	pts := quantity * a.PointsPerSub
	if a.DB != nil {
		if err := db.AddPoints(ctx, a.DB, gifter, pts); err != nil {
			slog.Error("failed to credit points", slog.String("gifter", gifter), slog.Any("err", err), slog.String("component", "points"))
			return
		}
	}
	if a.Monitor != nil {
		a.Monitor.RecordPointsAwarded(pts)
	}
	a.logCredit(ctx, eventID, gifter, quantity, status, pts)
	slog.Info("gift points awarded",
		slog.String("gifter", gifter),
		slog.Int("quantity", quantity),
		slog.Int("points", pts),
		slog.String("component", "points"))
}

func (a *Awarder) logCredit(ctx context.Context, eventID, gifter string, quantity int, status string, pts int) {
	if a.DB == nil {
		return
	}
	if err := db.InsertGiftCredit(ctx, a.DB, eventID, gifter, quantity, status, pts); err != nil {
		slog.Warn("failed to record gift credit", slog.Any("err", err), slog.String("component", "points"))
	}
}
