// internal/bank/query.go
//
// 唯讀查詢：使用者資料、子帳戶、交易紀錄與匯出。
// 全部在 Store.View 內完成，不取得使用者鎖。

package bank

import (
	"context"
	"io"

	"github.com/shopspring/decimal"

	"bankapp/internal/report"
	"bankapp/internal/storage"
)

// User 回傳使用者紀錄。
func (b *Bank) User(ctx context.Context, username string) (storage.User, error) {
	var u storage.User
	err := b.store.View(ctx, func(tx storage.Tx) error {
		var err error
		u, err = getUser(ctx, tx, username, ErrUserNotFound)
		return err
	})
	return u, err
}

// Accounts 依建立順序回傳子帳戶。
func (b *Bank) Accounts(ctx context.Context, username string) ([]storage.SubAccount, error) {
	var out []storage.SubAccount
	err := b.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if out, err = tx.ListAccounts(ctx, username); err != nil {
			return persistence("list accounts", err)
		}
		return nil
	})
	return out, err
}

// History 依提交順序回傳全部交易紀錄。
func (b *Bank) History(ctx context.Context, username string) ([]storage.Entry, error) {
	var out []storage.Entry
	err := b.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if out, err = tx.History(ctx, username); err != nil {
			return persistence("history", err)
		}
		return nil
	})
	return out, err
}

// Dashboard 在同一個讀取交易內取得使用者、子帳戶與總餘額。
func (b *Bank) Dashboard(ctx context.Context, username string) (Dashboard, error) {
	ctx, span := b.start(ctx, "Dashboard", username)
	defer span.End()

	var d Dashboard
	err := b.store.View(ctx, func(tx storage.Tx) error {
		u, err := getUser(ctx, tx, username, ErrUserNotFound)
		if err != nil {
			return err
		}
		accounts, err := tx.ListAccounts(ctx, username)
		if err != nil {
			return persistence("list accounts", err)
		}
		d = Dashboard{User: u, Accounts: accounts, Total: report.TotalBalance(u.Balance, accounts)}
		return nil
	})
	if err != nil {
		return Dashboard{}, b.fail(span, "dashboard", err)
	}
	return d, nil
}

// TotalBalance 回傳主帳戶加所有子帳戶的總額。
func (b *Bank) TotalBalance(ctx context.Context, username string) (decimal.Decimal, error) {
	d, err := b.Dashboard(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Total, nil
}

// Transactions 回傳符合篩選條件的交易紀錄；未知使用者回傳 ErrUserNotFound。
func (b *Bank) Transactions(ctx context.Context, username string, f report.Filter) ([]storage.Entry, error) {
	ctx, span := b.start(ctx, "Transactions", username)
	defer span.End()

	entries, err := b.history(ctx, username)
	if err != nil {
		return nil, b.fail(span, "transactions", err)
	}
	return report.FilterTransactions(entries, f), nil
}

// ExportTransactionsCSV 將全部交易紀錄以 CSV 寫入 w。
func (b *Bank) ExportTransactionsCSV(ctx context.Context, username string, w io.Writer) error {
	ctx, span := b.start(ctx, "ExportTransactionsCSV", username)
	defer span.End()

	entries, err := b.history(ctx, username)
	if err != nil {
		return b.fail(span, "export transactions", err)
	}
	return report.ExportCSV(w, entries)
}

func (b *Bank) history(ctx context.Context, username string) ([]storage.Entry, error) {
	var out []storage.Entry
	err := b.store.View(ctx, func(tx storage.Tx) error {
		if _, err := getUser(ctx, tx, username, ErrUserNotFound); err != nil {
			return err
		}
		var err error
		if out, err = tx.History(ctx, username); err != nil {
			return persistence("history", err)
		}
		return nil
	})
	return out, err
}
