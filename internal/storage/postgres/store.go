// internal/storage/postgres/store.go
//
// Package postgres 以 PostgreSQL (pgxpool) 實作 storage.Store。
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bankapp/internal/storage"
	"bankapp/internal/storage/postgres/migrations"
)

// Store 以 PostgreSQL 保存帳務狀態。金額欄位為 NUMERIC，進出皆以文字傳遞，不經過浮點數。
type Store struct {
	Pool *pgxpool.Pool
}

// Open 連線至 dsn、確認連線並套用資料表定義。
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, migrations.Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close 釋放連線池。
func (s *Store) Close() error {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}

// View 在唯讀交易內執行 fn。
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

// Update 在讀寫交易內執行 fn，fn 成功才 commit。
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, true, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, writable bool, fn func(storage.Tx) error) error {
	if s == nil || s.Pool == nil {
		return fmt.Errorf("storage is not configured")
	}
	pgTx, err := s.Pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&tx{tx: pgTx, writable: writable}); err != nil {
		return err
	}
	if !writable {
		return nil
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	tx       pgx.Tx
	writable bool
}

func (t *tx) write() error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *tx) CreateUser(ctx context.Context, u storage.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if err := t.write(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO users (username, account_number, name, surname, phone, id_number, email, password_hash, balance, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::text::numeric, $10)
`, u.Username, u.AccountNumber, u.Name, u.Surname, u.Phone, u.IDNumber, u.Email, u.PasswordHash, u.Balance.String(), u.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser 在 Update 內呼叫時以 FOR UPDATE 鎖住該列，其他行程的寫入會排在本交易之後。
func (t *tx) GetUser(ctx context.Context, username string) (storage.User, error) {
	query := `
SELECT username, account_number, name, surname, phone, id_number, email, password_hash, balance::text, created_at
FROM users
WHERE username = $1`
	if t.writable {
		query += " FOR UPDATE"
	}
	var (
		u       storage.User
		balance string
	)
	err := t.tx.QueryRow(ctx, query, username).Scan(
		&u.Username, &u.AccountNumber, &u.Name, &u.Surname, &u.Phone, &u.IDNumber,
		&u.Email, &u.PasswordHash, &balance, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.User{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	if u.Balance, err = parseDecimal(balance); err != nil {
		return storage.User{}, fmt.Errorf("get user %q: %w", username, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (t *tx) UpdateUser(ctx context.Context, username string, upd storage.UserUpdate) error {
	if err := t.write(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
UPDATE users
SET name = COALESCE($1, name),
    password_hash = COALESCE($2, password_hash)
WHERE username = $3
`, upd.Name, upd.PasswordHash, username)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *tx) SetBalance(ctx context.Context, username string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: negative balance for %q", storage.ErrInvalidRecord, username)
	}
	if err := t.write(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE users SET balance = $1::text::numeric WHERE username = $2`, balance.String(), username)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *tx) ListAccounts(ctx context.Context, username string) ([]storage.SubAccount, error) {
	rows, err := t.tx.Query(ctx, `
SELECT owner, name, balance::text
FROM sub_accounts
WHERE owner = $1
ORDER BY position ASC
`, username)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := []storage.SubAccount{}
	for rows.Next() {
		var (
			a       storage.SubAccount
			balance string
		)
		if err := rows.Scan(&a.Owner, &a.Name, &balance); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		if a.Balance, err = parseDecimal(balance); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) AddAccount(ctx context.Context, a storage.SubAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := t.write(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO sub_accounts (owner, name, balance)
VALUES ($1, $2, $3::text::numeric)
`, a.Owner, a.Name, a.Balance.String())
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("add account: %w", err)
	}
	return nil
}

func (t *tx) AppendEntry(ctx context.Context, e storage.Entry) (storage.Entry, error) {
	if err := e.Validate(); err != nil {
		return storage.Entry{}, err
	}
	if err := t.write(); err != nil {
		return storage.Entry{}, err
	}
	// TIMESTAMPTZ 精度為微秒；回傳值與 History 讀回的一致。
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	err := t.tx.QueryRow(ctx, `
INSERT INTO transactions (owner, created_at, type, amount, details, balance_after)
VALUES ($1, $2, $3, $4::text::numeric, $5, $6::text::numeric)
RETURNING seq
`, e.Owner, e.Timestamp, string(e.Type), e.Amount.String(), e.Details, e.BalanceAfter.String()).Scan(&e.Seq)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("append entry: %w", err)
	}
	return e, nil
}

func (t *tx) History(ctx context.Context, username string) ([]storage.Entry, error) {
	rows, err := t.tx.Query(ctx, `
SELECT seq, owner, created_at, type, amount::text, details, balance_after::text
FROM transactions
WHERE owner = $1
ORDER BY seq ASC
`, username)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	out := []storage.Entry{}
	for rows.Next() {
		var (
			e                     storage.Entry
			typ, amount, balAfter string
		)
		if err := rows.Scan(&e.Seq, &e.Owner, &e.Timestamp, &typ, &amount, &e.Details, &balAfter); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Type = storage.TxType(typ)
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		if e.BalanceAfter, err = parseDecimal(balAfter); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseDecimal(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad decimal %q", storage.ErrInvalidRecord, value)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ storage.Store = (*Store)(nil)
