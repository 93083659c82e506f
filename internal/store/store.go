package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PhoneProp is the user property name under which SMS numbers are stored.
const PhoneProp = "sms#"

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// LookupPhoneNumbers returns the SMS numbers of every member of group.
func (s *Store) LookupPhoneNumbers(ctx context.Context, group string) ([]Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.propvalue, i.username
		FROM iemchat_userprop i
		JOIN jivegroupuser j ON i.username = j.username
		WHERE j.groupname = $1 AND i.name = $2
		ORDER BY i.username
	`, group, PhoneProp)
	if err != nil {
		return nil, fmt.Errorf("query phone numbers: %w", err)
	}

	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscriber, error) {
		var sub Subscriber
		err := row.Scan(&sub.Number, &sub.Username)
		return sub, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan phone numbers: %w", err)
	}

	slog.Debug("looked up phone numbers", "group", group, "count", len(subs))
	return subs, nil
}

// SetPhoneNumber replaces the user's SMS number.
func (s *Store) SetPhoneNumber(ctx context.Context, username, number string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM iemchat_userprop WHERE username = $1 AND name = $2`,
		username, PhoneProp,
	); err != nil {
		return fmt.Errorf("delete old number: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO iemchat_userprop (username, name, propvalue) VALUES ($1, $2, $3)`,
		username, PhoneProp, number,
	); err != nil {
		return fmt.Errorf("insert number: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
