// internal/bank/bank.go

// Package bank 定義核心商業邏輯：存款、提款、轉帳、對外匯款、子帳戶建立與交易日誌。
// 每個操作依序為：驗證 → 讀取目前餘額 → 計算新餘額 → 寫回餘額 → 追加交易紀錄 → 回傳結果。
// 所有驗證都在任何寫入之前完成；寫入包在同一個 storage.Store.Update 內，要嘛全部生效、要嘛完全不生效。
// 以「每個 username 一把鎖」序列化同一使用者的讀取、修改與寫回，轉帳則依固定順序同時鎖住雙方。
// 金額使用 decimal.Decimal，避免浮點誤差。
package bank

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"bankapp/internal/auth"
	"bankapp/internal/storage"
)

const tracerName = "bankapp/internal/bank"

// Bank 為聚合根 (Aggregate Root)：透過注入的 Store 管理所有使用者的帳務。
// - store：持久化後端（JSON 快照、SQLite 或 PostgreSQL）。
// - locks：每個 username 一把互斥鎖。
// - now：時間來源，測試時可替換。
type Bank struct {
	store   storage.Store
	tokens  *auth.Tokens
	now     func() time.Time
	locks   userLocks
	printer *message.Printer
	tracer  trace.Tracer

	checkPassword func(hash, password string) bool
}

// Option 調整 Bank 的可選設定。
type Option func(*Bank)

// WithClock 替換時間來源。
func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

// WithTokens 設定登入時使用的 session token 簽發器。
func WithTokens(t *auth.Tokens) Option {
	return func(b *Bank) { b.tokens = t }
}

// NewBank 以指定的 Store 建立銀行實例。
func NewBank(store storage.Store, opts ...Option) *Bank {
	b := &Bank{
		store:   store,
		now:     time.Now,
		printer: message.NewPrinter(language.English),
		tracer:  otel.Tracer(tracerName),

		checkPassword: auth.CheckPassword,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Deposit 存款：金額需 > 0。
func (b *Bank) Deposit(ctx context.Context, username string, amount decimal.Decimal) (Receipt, error) {
	ctx, span := b.start(ctx, "Deposit", username)
	defer span.End()

	if !amount.IsPositive() {
		return Receipt{}, b.fail(span, "deposit", ErrInvalidAmount)
	}
	defer b.locks.lock(username)()

	var rc Receipt
	err := b.store.Update(ctx, func(tx storage.Tx) error {
		u, err := getUser(ctx, tx, username, ErrUserNotFound)
		if err != nil {
			return err
		}
		e, err := b.post(ctx, tx, username, u.Balance.Add(amount), storage.TypeDeposit, amount, "Deposit to main account")
		if err != nil {
			return err
		}
		rc = Receipt{Entries: []storage.Entry{e}, Balance: e.BalanceAfter}
		return nil
	})
	if err != nil {
		return Receipt{}, b.fail(span, "deposit", err)
	}
	rc.Message = b.printer.Sprintf("Successfully deposited R%.2f.", amount.InexactFloat64())
	return rc, nil
}

// Withdraw 提款：金額需 > 0 且不得超過主帳戶餘額。
func (b *Bank) Withdraw(ctx context.Context, username string, amount decimal.Decimal) (Receipt, error) {
	ctx, span := b.start(ctx, "Withdraw", username)
	defer span.End()

	if !amount.IsPositive() {
		return Receipt{}, b.fail(span, "withdraw", ErrInvalidAmount)
	}
	defer b.locks.lock(username)()

	var rc Receipt
	err := b.store.Update(ctx, func(tx storage.Tx) error {
		u, err := getUser(ctx, tx, username, ErrUserNotFound)
		if err != nil {
			return err
		}
		if amount.GreaterThan(u.Balance) {
			return ErrInsufficientFunds
		}
		e, err := b.post(ctx, tx, username, u.Balance.Sub(amount), storage.TypeWithdrawal, amount, "Withdrawal from main account")
		if err != nil {
			return err
		}
		rc = Receipt{Entries: []storage.Entry{e}, Balance: e.BalanceAfter}
		return nil
	})
	if err != nil {
		return Receipt{}, b.fail(span, "withdraw", err)
	}
	rc.Message = b.printer.Sprintf("Successfully withdrew R%.2f.", amount.InexactFloat64())
	return rc, nil
}

// Transfer 站內轉帳：扣款與入帳金額相同，雙方餘額總和不變。
// 檢查順序：金額 → 同一人 → 餘額 → 收款人是否存在；任一失敗皆不改變狀態。
// 成功後追加兩筆紀錄：轉出方 Transfer (Sent) 與轉入方 Transfer (Received)。
func (b *Bank) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (Receipt, error) {
	ctx, span := b.start(ctx, "Transfer", from)
	defer span.End()
	span.SetAttributes(attribute.String("bank.recipient", to))

	if !amount.IsPositive() {
		return Receipt{}, b.fail(span, "transfer", ErrInvalidAmount)
	}
	if from == to {
		return Receipt{}, b.fail(span, "transfer", ErrSameAccount)
	}
	defer b.locks.lock(from, to)()

	var rc Receipt
	err := b.store.Update(ctx, func(tx storage.Tx) error {
		sender, err := getUser(ctx, tx, from, ErrUserNotFound)
		if err != nil {
			return err
		}
		if amount.GreaterThan(sender.Balance) {
			return ErrInsufficientFunds
		}
		recipient, err := getUser(ctx, tx, to, ErrRecipientNotFound)
		if err != nil {
			return err
		}

		sent, err := b.post(ctx, tx, from, sender.Balance.Sub(amount), storage.TypeTransferSent, amount, "Transfer to "+to)
		if err != nil {
			return err
		}
		received, err := b.post(ctx, tx, to, recipient.Balance.Add(amount), storage.TypeTransferReceived, amount, "Transfer from "+from)
		if err != nil {
			return err
		}
		rc = Receipt{Entries: []storage.Entry{sent, received}, Balance: sent.BalanceAfter}
		return nil
	})
	if err != nil {
		return Receipt{}, b.fail(span, "transfer", err)
	}
	rc.Message = b.printer.Sprintf("Successfully transferred R%.2f to %s.", amount.InexactFloat64(), to)
	return rc, nil
}

// SendMoney 對外匯款：扣除金額加上固定手續費 TransferFee；手續費不入任何帳戶。
// 交易紀錄的 Amount 為匯出金額，手續費記載於 Details。
func (b *Bank) SendMoney(ctx context.Context, username, externalAccount string, amount decimal.Decimal) (Receipt, error) {
	ctx, span := b.start(ctx, "SendMoney", username)
	defer span.End()

	if !amount.IsPositive() {
		return Receipt{}, b.fail(span, "send money", ErrInvalidAmount)
	}
	defer b.locks.lock(username)()

	debit := amount.Add(TransferFee)
	details := b.printer.Sprintf("Sent to external account '%s' (Fee: R%s)", externalAccount, TransferFee.StringFixed(2))

	var rc Receipt
	err := b.store.Update(ctx, func(tx storage.Tx) error {
		u, err := getUser(ctx, tx, username, ErrUserNotFound)
		if err != nil {
			return err
		}
		if debit.GreaterThan(u.Balance) {
			return ErrInsufficientFunds
		}
		e, err := b.post(ctx, tx, username, u.Balance.Sub(debit), storage.TypeSendMoney, amount, details)
		if err != nil {
			return err
		}
		rc = Receipt{Entries: []storage.Entry{e}, Balance: e.BalanceAfter}
		return nil
	})
	if err != nil {
		return Receipt{}, b.fail(span, "send money", err)
	}
	rc.Message = b.printer.Sprintf("Successfully transferred R%.2f to external account '%s' with a R%.2f fee.",
		amount.InexactFloat64(), externalAccount, TransferFee.InexactFloat64())
	return rc, nil
}

// CreateAccount 建立子帳戶，初始餘額由主帳戶扣除（主帳戶加所有子帳戶的總額不變）。
// 檢查順序：初始餘額非負 → 擁有者存在 → 餘額足夠 → 名稱未重複。
func (b *Bank) CreateAccount(ctx context.Context, username, name string, initial decimal.Decimal) (Receipt, error) {
	ctx, span := b.start(ctx, "CreateAccount", username)
	defer span.End()

	name = trimName(name)
	if initial.IsNegative() {
		return Receipt{}, b.fail(span, "create account", ErrInvalidAmount)
	}
	if name == "" {
		return Receipt{}, b.fail(span, "create account", ErrInvalidAccountName)
	}
	defer b.locks.lock(username)()

	var rc Receipt
	err := b.store.Update(ctx, func(tx storage.Tx) error {
		u, err := getUser(ctx, tx, username, ErrUserNotFound)
		if err != nil {
			return err
		}
		if initial.GreaterThan(u.Balance) {
			return ErrInsufficientFunds
		}
		existing, err := tx.ListAccounts(ctx, username)
		if err != nil {
			return persistence("list accounts", err)
		}
		for _, a := range existing {
			if a.Name == name {
				return ErrDuplicateAccountName
			}
		}

		if err := tx.AddAccount(ctx, storage.SubAccount{Owner: username, Name: name, Balance: initial}); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return ErrDuplicateAccountName
			}
			return persistence("add account", err)
		}
		e, err := b.post(ctx, tx, username, u.Balance.Sub(initial), storage.TypeAccountCreation, initial,
			"Created account '"+name+"'")
		if err != nil {
			return err
		}
		rc = Receipt{Entries: []storage.Entry{e}, Balance: e.BalanceAfter}
		return nil
	})
	if err != nil {
		return Receipt{}, b.fail(span, "create account", err)
	}
	rc.Message = b.printer.Sprintf("Account '%s' created successfully with an initial balance of R%.2f.",
		name, initial.InexactFloat64())
	return rc, nil
}

// post 寫回 owner 的新餘額並追加一筆交易紀錄，BalanceAfter 即為新餘額。
func (b *Bank) post(ctx context.Context, tx storage.Tx, owner string, balance decimal.Decimal,
	typ storage.TxType, amount decimal.Decimal, details string) (storage.Entry, error) {
	if err := tx.SetBalance(ctx, owner, balance); err != nil {
		return storage.Entry{}, persistence("set balance", err)
	}
	e, err := tx.AppendEntry(ctx, storage.Entry{
		Timestamp:    b.now().UTC(),
		Owner:        owner,
		Type:         typ,
		Amount:       amount,
		Details:      details,
		BalanceAfter: balance,
	})
	if err != nil {
		return storage.Entry{}, persistence("append entry", err)
	}
	return e, nil
}

// getUser 讀取使用者；不存在時回傳 notFound（操作者或收款人各自的錯誤）。
func getUser(ctx context.Context, tx storage.Tx, username string, notFound error) (storage.User, error) {
	u, err := tx.GetUser(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, notFound
	}
	if err != nil {
		return storage.User{}, persistence("get user", err)
	}
	return u, nil
}

func (b *Bank) start(ctx context.Context, op, username string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "bank."+op, trace.WithAttributes(attribute.String("bank.username", username)))
}

// fail 統一處理操作失敗：非領域錯誤一律視為儲存層失敗，並記錄於 log 與 span。
func (b *Bank) fail(span trace.Span, op string, err error) error {
	kind := KindOf(err)
	if kind == KindUnknown {
		err = persistence(op, err)
		kind = KindPersistence
	}
	span.SetAttributes(attribute.String("bank.error_kind", kind.String()))
	if kind == KindPersistence {
		log.Printf("bank: %s failed: %v", op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// userLocks 為每個 username 提供一把互斥鎖。
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

// lock 依字典序鎖住所有 names（去除重複），回傳解鎖函式。
// 固定順序確保兩筆方向相反的轉帳不會互相等待。
func (l *userLocks) lock(names ...string) (unlock func()) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	held := make([]*sync.Mutex, 0, len(sorted))
	for i, n := range sorted {
		if i > 0 && sorted[i-1] == n {
			continue
		}
		m, ok := l.m[n]
		if !ok {
			m = &sync.Mutex{}
			l.m[n] = m
		}
		held = append(held, m)
	}
	l.mu.Unlock()

	for _, m := range held {
		m.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
