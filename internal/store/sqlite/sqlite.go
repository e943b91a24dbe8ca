// Package sqlite is the SQLite store backend (pure Go driver, embedded migrations).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"savtogether/internal/core"
	"savtogether/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open creates the database file if needed, migrates it and returns the store.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; every multi-record write is a single transaction
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) LoadUser(ctx context.Context) (*core.User, error) {
	var u core.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, email, avatar_url, partner_id FROM session_user WHERE slot = 1`).
		Scan(&u.ID, &u.FullName, &u.Email, &u.AvatarURL, &u.PartnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, u core.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_user (slot, id, full_name, email, avatar_url, partner_id)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			id = excluded.id,
			full_name = excluded.full_name,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			partner_id = excluded.partner_id`,
		u.ID, u.FullName, u.Email, u.AvatarURL, u.PartnerID)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Store) LoadInvitation(ctx context.Context) (*core.Invitation, error) {
	var (
		inv    core.Invitation
		sentAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sender_id, invited_email, status, sent_at FROM invitation WHERE slot = 1`).
		Scan(&inv.ID, &inv.SenderID, &inv.InvitedEmail, &inv.Status, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}
	inv.SentAt = fromNanos(sentAt)
	return &inv, nil
}

func (s *Store) SaveInvitation(ctx context.Context, inv core.Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitation (slot, id, sender_id, invited_email, status, sent_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			id = excluded.id,
			sender_id = excluded.sender_id,
			invited_email = excluded.invited_email,
			status = excluded.status,
			sent_at = excluded.sent_at`,
		inv.ID, inv.SenderID, inv.InvitedEmail, string(inv.Status), inv.SentAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save invitation: %w", err)
	}
	return nil
}

const goalColumns = `id, partnership_id, name, target_cents, current_cents, deadline,
	contribution_cents, frequency, status, created_at`

func (s *Store) ListGoals(ctx context.Context, partnershipID string) ([]core.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE partnership_id = ? ORDER BY seq`, partnershipID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	out := []core.Goal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return out, nil
}

func (s *Store) InsertGoal(ctx context.Context, g core.Goal) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if g.Status == core.GoalActive {
			if err := pauseActive(ctx, tx, g.PartnershipID, ""); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO goals (`+goalColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.PartnershipID, g.Name, g.TargetAmount.Cents, g.CurrentAmount.Cents,
			g.Deadline.String(), g.ContributionPerPerson.Cents, string(g.Frequency),
			string(g.Status), g.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert goal: %w", err)
		}
		return nil
	})
}

func (s *Store) SetGoalStatus(ctx context.Context, partnershipID, goalID string, status core.GoalStatus) (core.Goal, error) {
	var out core.Goal
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := getGoal(ctx, tx, goalID)
		if err != nil {
			return err
		}
		if g.PartnershipID != partnershipID {
			return fmt.Errorf("goal %s: %w", goalID, core.ErrNotFound)
		}
		if !g.Status.CanTransition(status) {
			return fmt.Errorf("goal %s from %s to %s: %w", goalID, g.Status, status, core.ErrInvalidTransition)
		}
		if status == core.GoalActive {
			if err := pauseActive(ctx, tx, partnershipID, goalID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE goals SET status = ? WHERE id = ?`, string(status), goalID); err != nil {
			return fmt.Errorf("update goal status: %w", err)
		}
		g.Status = status
		out = g
		return nil
	})
	return out, err
}

const txColumns = `t.id, t.goal_id, t.user_id, t.user_name, t.amount_cents, t.type, t.status, t.created_at, t.reference`

func (s *Store) ListTransactions(ctx context.Context, goalID string) ([]core.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions t WHERE t.goal_id = ? ORDER BY t.created_at DESC, t.seq`, goalID)
}

func (s *Store) ListPartnershipTransactions(ctx context.Context, partnershipID string) ([]core.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions t
		JOIN goals g ON g.id = t.goal_id
		WHERE g.partnership_id = ?
		ORDER BY t.created_at DESC, t.seq`, partnershipID)
}

func (s *Store) ApplyContribution(ctx context.Context, goalID string, txns []core.Transaction) (core.Goal, error) {
	var out core.Goal
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := getGoal(ctx, tx, goalID)
		if err != nil {
			return err
		}
		if g.Status != core.GoalActive {
			return fmt.Errorf("goal %s is %s: %w", goalID, g.Status, core.ErrGoalNotActive)
		}
		if err := store.Credit(&g, txns); err != nil {
			return err
		}
		for _, t := range txns {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (id, goal_id, user_id, user_name, amount_cents, type, status, created_at, reference)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, goalID, t.UserID, t.UserName, t.Amount.Cents, string(t.Type), string(t.Status),
				t.Timestamp.UnixNano(), t.Reference)
			if err != nil {
				return fmt.Errorf("insert transaction %s: %w", t.ID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE goals SET current_cents = ?, status = ? WHERE id = ?`,
			g.CurrentAmount.Cents, string(g.Status), goalID)
		if err != nil {
			return fmt.Errorf("update goal balance: %w", err)
		}
		out = g
		return nil
	})
	if err == nil {
		slog.DebugContext(ctx, "Contribution saved to SQLite",
			"goal_id", goalID,
			"transactions", len(txns),
			"current_cents", out.CurrentAmount.Cents)
	}
	return out, err
}

func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"transactions", "goals", "invitation", "session_user"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, arg string) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		var (
			t        core.Transaction
			amount   int64
			recorded int64
		)
		if err := rows.Scan(&t.ID, &t.GoalID, &t.UserID, &t.UserName, &amount, &t.Type, &t.Status, &recorded, &t.Reference); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Amount = core.Money{Cents: amount}
		t.Timestamp = fromNanos(recorded)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGoal(row scanner) (core.Goal, error) {
	var (
		g                                   core.Goal
		target, current, contribution, born int64
		deadline                            string
	)
	err := row.Scan(&g.ID, &g.PartnershipID, &g.Name, &target, &current, &deadline,
		&contribution, &g.Frequency, &g.Status, &born)
	if err != nil {
		return core.Goal{}, err
	}
	d, err := core.ParseDate(deadline)
	if err != nil {
		return core.Goal{}, fmt.Errorf("goal %s deadline %q: %w", g.ID, deadline, err)
	}
	g.TargetAmount = core.Money{Cents: target}
	g.CurrentAmount = core.Money{Cents: current}
	g.ContributionPerPerson = core.Money{Cents: contribution}
	g.Deadline = d
	g.CreatedAt = fromNanos(born)
	return g, nil
}

func getGoal(ctx context.Context, tx *sql.Tx, goalID string) (core.Goal, error) {
	g, err := scanGoal(tx.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, goalID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, fmt.Errorf("goal %s: %w", goalID, core.ErrNotFound)
	}
	if err != nil {
		return core.Goal{}, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

func pauseActive(ctx context.Context, tx *sql.Tx, partnershipID, keep string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE goals SET status = 'paused' WHERE partnership_id = ? AND status = 'active' AND id <> ?`,
		partnershipID, keep)
	if err != nil {
		return fmt.Errorf("pause active goals: %w", err)
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
