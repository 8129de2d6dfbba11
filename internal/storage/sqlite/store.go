// internal/storage/sqlite/store.go
//
// Package sqlite 以 SQLite 實作 storage.Store。
// 每次 View/Update 對應一個資料庫交易；金額以 TEXT 保存，讀回時與寫入完全一致。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"bankapp/internal/storage"
	"bankapp/internal/storage/sqlite/migrations"
)

// Store 以 SQLite 保存使用者、子帳戶與交易紀錄。
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open 開啟 path 上的資料庫並套用內嵌的 migration。
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 單一連線：所有交易依序執行。
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close 關閉資料庫連線。
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// View 在交易內執行 fn，結束後一律 rollback。
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, false, fn)
}

// Update 在交易內執行 fn，fn 成功才 commit。
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, writable bool, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{tx: sqlTx, writable: writable}); err != nil {
		return err
	}
	if !writable {
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	tx       *sql.Tx
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
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (
		   username, account_number, name, surname, phone, id_number,
		   email, password_hash, balance, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.AccountNumber, u.Name, u.Surname, u.Phone, u.IDNumber,
		u.Email, u.PasswordHash, u.Balance.String(), toMillis(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (t *tx) GetUser(ctx context.Context, username string) (storage.User, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT username, account_number, name, surname, phone, id_number,
		        email, password_hash, balance, created_at
		   FROM users
		  WHERE username = ?`,
		username,
	)
	var (
		u         storage.User
		balance   string
		createdAt int64
	)
	err := row.Scan(&u.Username, &u.AccountNumber, &u.Name, &u.Surname, &u.Phone, &u.IDNumber,
		&u.Email, &u.PasswordHash, &balance, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	if u.Balance, err = parseDecimal(balance); err != nil {
		return storage.User{}, fmt.Errorf("get user %q: %w", username, err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

func (t *tx) UpdateUser(ctx context.Context, username string, upd storage.UserUpdate) error {
	if err := t.write(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users
		    SET name = COALESCE(?, name),
		        password_hash = COALESCE(?, password_hash)
		  WHERE username = ?`,
		nullable(upd.Name), nullable(upd.PasswordHash), username,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(res)
}

func (t *tx) SetBalance(ctx context.Context, username string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: negative balance for %q", storage.ErrInvalidRecord, username)
	}
	if err := t.write(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE users SET balance = ? WHERE username = ?`, balance.String(), username)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return requireRow(res)
}

func (t *tx) ListAccounts(ctx context.Context, username string) ([]storage.SubAccount, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT owner, name, balance FROM sub_accounts WHERE owner = ? ORDER BY position ASC`,
		username,
	)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

func (t *tx) AddAccount(ctx context.Context, a storage.SubAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := t.write(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sub_accounts (owner, name, balance) VALUES (?, ?, ?)`,
		a.Owner, a.Name, a.Balance.String(),
	)
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
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (owner, created_at, type, amount, details, balance_after)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Owner, toMillis(e.Timestamp), string(e.Type), e.Amount.String(), e.Details, e.BalanceAfter.String(),
	)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("append entry: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return storage.Entry{}, fmt.Errorf("append entry: %w", err)
	}
	// 回傳值與 History 讀回的精度一致（毫秒）。
	e.Timestamp = fromMillis(toMillis(e.Timestamp))
	return e, nil
}

func (t *tx) History(ctx context.Context, username string) ([]storage.Entry, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT seq, owner, created_at, type, amount, details, balance_after
		   FROM transactions
		  WHERE owner = ?
		  ORDER BY seq ASC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	out := []storage.Entry{}
	for rows.Next() {
		var (
			e                     storage.Entry
			createdAt             int64
			typ, amount, balAfter string
		)
		if err := rows.Scan(&e.Seq, &e.Owner, &createdAt, &typ, &amount, &e.Details, &balAfter); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		e.Timestamp = fromMillis(createdAt)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out, nil
}

func parseDecimal(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad decimal %q", storage.ErrInvalidRecord, value)
	}
	return d, nil
}

func nullable(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.Store = (*Store)(nil)
