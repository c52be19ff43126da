package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code serves transactional and non-transactional paths.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Stores provides typed accessors over a Querier.
type Stores struct {
	q Querier
}

func NewStores(q Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Skills() SkillStore {
	return newSkillStore(s.q)
}

func (s *Stores) Emails() EmailStore {
	return newEmailStore(s.q)
}

func (s *Stores) Replies() ReplyStore {
	return newReplyStore(s.q)
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.q)
}

func (s *Stores) Provenance() ProvenanceStore {
	return newProvenanceStore(s.q)
}

func (s *Stores) ChangeLogs() ChangeLogStore {
	return newChangeLogStore(s.q)
}
