package database

import (
	"context"
	"database/sql"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type txContextKey string

const txKey = txContextKey("tx-context-key")

type Tx interface {
	Executor
	IsOpen() bool
	// Owner reports whether this handle began the transaction. Only the owner commits or rolls back.
	Owner() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type txState struct {
	mu     sync.Mutex
	closed bool
}

// Transaction wraps sqlx.Tx. Handles returned to nested GetTx calls share the outer
// transaction and treat Commit and Rollback as no-ops.
type Transaction struct {
	*sqlx.Tx
	logger ectologger.Logger
	owner  bool
	state  *txState
}

type beginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

func TxFromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(txKey).(*Transaction)
	return tx, ok && tx != nil
}

func GetTx(ctx context.Context, logger ectologger.Logger, db beginner, opts *sql.TxOptions) (context.Context, Tx, error) {
	if parent, ok := TxFromContext(ctx); ok && parent.IsOpen() {
		return ctx, &Transaction{Tx: parent.Tx, logger: logger, owner: false, state: parent.state}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("error while beginning transaction")
		return ctx, nil, errors.Wrap(err, "error while beginning transaction")
	}

	newTx := &Transaction{Tx: tx, logger: logger, owner: true, state: &txState{}}
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

func (t *Transaction) IsOpen() bool {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	return !t.state.closed
}

func (t *Transaction) Owner() bool {
	return t.owner
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if !t.owner {
		return nil
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.closed {
		return nil
	}
	t.state.closed = true

	if err := t.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.logger.WithContext(ctx).WithError(err).Error("error while rolling back transaction")
		return errors.Wrap(err, "error while rolling back transaction")
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if !t.owner {
		return nil
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.closed {
		return nil
	}
	t.state.closed = true

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Error("error while committing transaction")
		return errors.Wrap(err, "error while committing transaction")
	}
	return nil
}
