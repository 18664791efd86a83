package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/model"
	"github.com/jmoiron/sqlx"
)

// Ledger is the durable keyed state of the system: the scalar account
// row, the holdings mapping, the append-only transaction log and the
// valuation history. It holds no business logic.
type Ledger struct {
	db     *sqlx.DB
	logger logger.Logger

	initialCapital float64
}

func New(db *sqlx.DB, initialCapital float64, logger logger.Logger) *Ledger {
	return &Ledger{
		db:             db,
		initialCapital: initialCapital,
		logger:         logger,
	}
}

const _schema = `
CREATE TABLE IF NOT EXISTS account (
	id             SMALLINT PRIMARY KEY CHECK (id = 1),
	balance        DOUBLE PRECISION NOT NULL,
	total_deposits DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS holdings (
	asset     TEXT PRIMARY KEY,
	quantity  DOUBLE PRECISION NOT NULL,
	avg_price DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id        BIGSERIAL PRIMARY KEY,
	ts        TIMESTAMPTZ NOT NULL,
	action    TEXT NOT NULL,
	asset     TEXT NOT NULL,
	amount    DOUBLE PRECISION NOT NULL,
	price     DOUBLE PRECISION NOT NULL,
	reasoning TEXT NOT NULL,
	proceeds  DOUBLE PRECISION NOT NULL DEFAULT 0,
	gain_pct  DOUBLE PRECISION
);
CREATE TABLE IF NOT EXISTS portfolio_history (
	id          BIGSERIAL PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	total_value DOUBLE PRECISION NOT NULL
);`

func (l *Ledger) InitSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, _schema); err != nil {
		return fmt.Errorf("%w: can't create schema: %s", model.ErrStorageUnavailable, err)
	}
	return nil
}

const (
	_queryAccountExists = "SELECT EXISTS (SELECT 1 FROM account WHERE id = 1)"
	_insertAccount      = "INSERT INTO account (id, balance, total_deposits) VALUES (1, $1, $2)"
)

// Seed initializes a fresh ledger with the starting capital, recorded
// as a DEPOSIT transaction plus an initial valuation point so that the
// history series never starts empty.
func (l *Ledger) Seed(ctx context.Context) error {
	var exists bool
	if err := l.db.GetContext(ctx, &exists, _queryAccountExists); err != nil {
		return fmt.Errorf("%w: can't query account: %s", model.ErrStorageUnavailable, err)
	}
	if exists {
		return nil
	}

	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, _insertAccount, l.initialCapital, l.initialCapital); err != nil {
			return fmt.Errorf("can't insert account: %w", err)
		}
		if _, err := tx.ExecContext(ctx, _insertTransaction,
			now, model.Deposit, "USD", l.initialCapital, 1.0, "Initial deposit", 0.0, nil,
		); err != nil {
			return fmt.Errorf("can't insert seed transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, _insertValuationPoint, now, l.initialCapital); err != nil {
			return fmt.Errorf("can't insert seed valuation point: %w", err)
		}
		return nil
	})
}

const (
	_queryAccount  = "SELECT balance, total_deposits FROM account WHERE id = 1"
	_queryHoldings = "SELECT asset, quantity, avg_price FROM holdings ORDER BY asset"
)

func (l *Ledger) ReadAccount(ctx context.Context) (balance, totalDeposits float64, err error) {
	var row struct {
		Balance       float64 `db:"balance"`
		TotalDeposits float64 `db:"total_deposits"`
	}
	if err := l.db.GetContext(ctx, &row, _queryAccount); err != nil {
		return 0, 0, fmt.Errorf("%w: can't query account: %s", model.ErrStorageUnavailable, err)
	}
	return row.Balance, row.TotalDeposits, nil
}

func (l *Ledger) ReadHoldings(ctx context.Context) ([]model.Holding, error) {
	var holdings []model.Holding
	if err := l.db.SelectContext(ctx, &holdings, _queryHoldings); err != nil {
		return nil, fmt.Errorf("%w: can't query holdings: %s", model.ErrStorageUnavailable, err)
	}
	return holdings, nil
}

const (
	_updateBalance = "UPDATE account SET balance = $1 WHERE id = 1"
	_upsertHolding = `INSERT INTO holdings (asset, quantity, avg_price)
						VALUES ($1, $2, $3)
						ON CONFLICT (asset)
						DO UPDATE SET
							quantity = EXCLUDED.quantity,
							avg_price = EXCLUDED.avg_price;`
	_deleteHolding     = "DELETE FROM holdings WHERE asset = $1"
	_insertTransaction = `INSERT INTO transactions (ts, action, asset, amount, price, reasoning, proceeds, gain_pct)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

// ApplyTrade persists one executed trade as a single atomic unit: the
// new balance, the asset's holding row (upserted, or deleted when the
// position is closed) and the transaction record. A concurrent reader
// never observes a half-applied trade.
func (l *Ledger) ApplyTrade(ctx context.Context, balance float64, h model.Holding, removed bool, record model.Transaction) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, _updateBalance, balance); err != nil {
			return fmt.Errorf("can't update balance: %w", err)
		}
		if removed {
			if _, err := tx.ExecContext(ctx, _deleteHolding, h.Asset); err != nil {
				return fmt.Errorf("can't delete holding: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, _upsertHolding, h.Asset, h.Quantity, h.AvgPrice); err != nil {
				return fmt.Errorf("can't upsert holding: %w", err)
			}
		}
		if err := insertTransaction(ctx, tx, record); err != nil {
			return err
		}
		return nil
	})
}

func (l *Ledger) AppendTransaction(ctx context.Context, record model.Transaction) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertTransaction(ctx, tx, record)
	})
}

const _addDeposit = "UPDATE account SET balance = balance + $1, total_deposits = total_deposits + $1 WHERE id = 1"

// Deposit credits the balance and the cumulative-deposits counter,
// records the DEPOSIT transaction and appends the post-deposit
// valuation point, all atomically.
func (l *Ledger) Deposit(ctx context.Context, amount float64, record model.Transaction, point model.ValuationPoint) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, _addDeposit, amount); err != nil {
			return fmt.Errorf("can't credit deposit: %w", err)
		}
		if err := insertTransaction(ctx, tx, record); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, _insertValuationPoint, point.Ts, point.TotalValue); err != nil {
			return fmt.Errorf("can't insert deposit valuation point: %w", err)
		}
		return nil
	})
}

const _insertValuationPoint = "INSERT INTO portfolio_history (ts, total_value) VALUES ($1, $2)"

func (l *Ledger) AppendValuationPoint(ctx context.Context, point model.ValuationPoint) error {
	if _, err := l.db.ExecContext(ctx, _insertValuationPoint, point.Ts, point.TotalValue); err != nil {
		return fmt.Errorf("%w: can't insert valuation point: %s", model.ErrStorageUnavailable, err)
	}
	return nil
}

const (
	_queryTransactions = `SELECT id, ts, action, asset, amount, price, reasoning, proceeds, gain_pct
						FROM transactions ORDER BY ts DESC, id DESC LIMIT $1`
	_queryHistory = "SELECT ts, total_value FROM portfolio_history ORDER BY ts ASC, id ASC"
)

const _defaultTransactionsLimit = 50

// ReadTransactions returns the log most recent first.
func (l *Ledger) ReadTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = _defaultTransactionsLimit
	}
	var txs []model.Transaction
	if err := l.db.SelectContext(ctx, &txs, _queryTransactions, limit); err != nil {
		return nil, fmt.Errorf("%w: can't query transactions: %s", model.ErrStorageUnavailable, err)
	}
	return txs, nil
}

func (l *Ledger) ReadHistory(ctx context.Context) ([]model.ValuationPoint, error) {
	var points []model.ValuationPoint
	if err := l.db.SelectContext(ctx, &points, _queryHistory); err != nil {
		return nil, fmt.Errorf("%w: can't query history: %s", model.ErrStorageUnavailable, err)
	}
	return points, nil
}

const (
	_truncateAll = "TRUNCATE transactions, portfolio_history, holdings, account"
)

// ResetAll wipes every table and reseeds the initial capital in one
// transaction.
func (l *Ledger) ResetAll(ctx context.Context) error {
	err := l.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, _truncateAll); err != nil {
			return fmt.Errorf("can't truncate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, _insertAccount, l.initialCapital, l.initialCapital); err != nil {
			return fmt.Errorf("can't reseed account: %w", err)
		}
		if _, err := tx.ExecContext(ctx, _insertTransaction,
			now, model.Deposit, "USD", l.initialCapital, 1.0, "Initial deposit", 0.0, nil,
		); err != nil {
			return fmt.Errorf("can't reseed transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, _insertValuationPoint, now, l.initialCapital); err != nil {
			return fmt.Errorf("can't reseed valuation point: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Infof("ledger reset to initial capital %.2f", l.initialCapital)
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, record model.Transaction) error {
	ts := record.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, _insertTransaction,
		ts, record.Action, record.Asset, record.Amount, record.Price,
		record.Reasoning, record.Proceeds, record.GainPct,
	); err != nil {
		return fmt.Errorf("can't insert transaction: %w", err)
	}
	return nil
}

func (l *Ledger) withTx(ctx context.Context, f func(tx *sqlx.Tx) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: can't begin tx: %s", model.ErrStorageUnavailable, err)
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			l.logger.Errorf("%s: can't rollback tx", rbErr)
		}
		return fmt.Errorf("%w: %s", model.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: can't commit tx: %s", model.ErrStorageUnavailable, err)
	}
	return nil
}
