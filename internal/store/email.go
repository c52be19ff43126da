package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mailbrain.app/agent/internal/model"
)

type emailStore struct {
	q Querier
}

func newEmailStore(q Querier) EmailStore {
	return &emailStore{q: q}
}

const emailColumns = `id, sender, sender_name, recipient, subject, body,
	received_at, category, is_customer_service, processed`

func (s *emailStore) GetByID(ctx context.Context, id int64) (*model.Email, error) {
	row := s.q.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	return scanEmail(row)
}

func (s *emailStore) Create(ctx context.Context, email *model.Email) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO emails
			(id, sender, sender_name, recipient, subject, body, received_at,
			 category, is_customer_service, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		email.ID, email.Sender, email.SenderName, email.Recipient,
		email.Subject, email.Body, email.ReceivedAt, email.Category,
		email.IsCustomerService, email.Processed)
	if err != nil {
		return fmt.Errorf("creating email: %w", err)
	}
	return nil
}

func (s *emailStore) ListCustomerService(ctx context.Context, limit int) ([]model.Email, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+emailColumns+` FROM emails
		WHERE is_customer_service
		ORDER BY received_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing customer service emails: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *email)
	}
	return emails, rows.Err()
}

func (s *emailStore) SetClassification(ctx context.Context, id int64, isCustomerService bool, category *string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE emails SET is_customer_service = $1, category = $2 WHERE id = $3`,
		isCustomerService, category, id)
	if err != nil {
		return fmt.Errorf("setting classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *emailStore) MarkProcessed(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `UPDATE emails SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking email processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEmail(row pgx.Row) (*model.Email, error) {
	var email model.Email
	err := row.Scan(&email.ID, &email.Sender, &email.SenderName,
		&email.Recipient, &email.Subject, &email.Body, &email.ReceivedAt,
		&email.Category, &email.IsCustomerService, &email.Processed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &email, nil
}
