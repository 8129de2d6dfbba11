// internal/storage/model.go
//
// 定義儲存層 (storage layer) 的紀錄結構與存取介面。
// 使用者、子帳戶與交易紀錄皆以 username 作為關聯鍵，不持有物件指標。
// 金額一律使用 decimal.Decimal，確保寫入後再讀回時數值完全一致。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound 代表紀錄不存在。
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists 代表唯一鍵衝突（username 或同一使用者下的子帳戶名稱）。
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidRecord 代表紀錄欄位不合法，於儲存邊界即被拒絕。
	ErrInvalidRecord = errors.New("invalid record")

	// ErrReadOnly 代表在唯讀交易中嘗試寫入。
	ErrReadOnly = errors.New("read-only transaction")
)

// TxType 為交易紀錄類型；字串值即為持久化與匯出時的顯示值。
type TxType string

const (
	TypeDeposit          TxType = "Deposit"
	TypeWithdrawal       TxType = "Withdrawal"
	TypeTransferSent     TxType = "Transfer (Sent)"
	TypeTransferReceived TxType = "Transfer (Received)"
	TypeSendMoney        TxType = "Send Money"
	TypeAccountCreation  TxType = "Account Creation"
)

// Valid 回報 t 是否為已知的交易類型。
func (t TxType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransferSent, TypeTransferReceived, TypeSendMoney, TypeAccountCreation:
		return true
	}
	return false
}

// User 為一位註冊使用者的完整紀錄（身分資料、密碼雜湊與主帳戶餘額）。
type User struct {
	AccountNumber string          `json:"account_number"`
	Name          string          `json:"name"`
	Surname       string          `json:"surname"`
	Phone         string          `json:"phone"`
	IDNumber      string          `json:"id_number"`
	Email         string          `json:"email"`
	Username      string          `json:"username"`
	PasswordHash  string          `json:"password_hash"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Validate 檢查使用者紀錄的必要欄位與非負餘額。
func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidRecord)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("%w: user %q has no password hash", ErrInvalidRecord, u.Username)
	}
	if u.Balance.IsNegative() {
		return fmt.Errorf("%w: user %q has negative balance", ErrInvalidRecord, u.Username)
	}
	return nil
}

// UserUpdate 描述可部分更新的使用者欄位；nil 代表不變更。
type UserUpdate struct {
	Name         *string
	PasswordHash *string
}

// SubAccount 為使用者名下的具名子帳戶。
type SubAccount struct {
	Owner   string          `json:"owner"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// Validate 檢查子帳戶的擁有者、名稱與非負餘額。
func (a SubAccount) Validate() error {
	if a.Owner == "" || strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: sub-account requires owner and name", ErrInvalidRecord)
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("%w: sub-account %q has negative balance", ErrInvalidRecord, a.Name)
	}
	return nil
}

// Entry 為一筆不可變的交易紀錄。
// Seq 由儲存層於 append 時指派，為同一使用者紀錄的排序鍵。
// BalanceAfter 為操作完成當下主帳戶餘額的快照。
type Entry struct {
	Seq          int64           `json:"seq"`
	Timestamp    time.Time       `json:"timestamp"`
	Owner        string          `json:"owner"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Details      string          `json:"details"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

// Validate 檢查交易紀錄的擁有者、類型與金額。
func (e Entry) Validate() error {
	if e.Owner == "" {
		return fmt.Errorf("%w: entry requires owner", ErrInvalidRecord)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidRecord, e.Type)
	}
	if e.Amount.IsNegative() || e.BalanceAfter.IsNegative() {
		return fmt.Errorf("%w: entry amounts must not be negative", ErrInvalidRecord)
	}
	return nil
}

// Tx 為單一工作單元內可用的讀寫操作。
// 同一 Tx 內的寫入在 Store.Update 回傳前對外不可見；fn 回傳錯誤時全數捨棄。
type Tx interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, username string) (User, error)
	UpdateUser(ctx context.Context, username string, upd UserUpdate) error
	SetBalance(ctx context.Context, username string, balance decimal.Decimal) error

	// ListAccounts 依建立順序回傳子帳戶；未知使用者回傳空切片而非錯誤。
	ListAccounts(ctx context.Context, username string) ([]SubAccount, error)
	AddAccount(ctx context.Context, a SubAccount) error

	// AppendEntry 追加一筆交易紀錄並回傳帶有 Seq 的紀錄。
	AppendEntry(ctx context.Context, e Entry) (Entry, error)
	// History 依提交順序回傳使用者的全部交易紀錄。
	History(ctx context.Context, username string) ([]Entry, error)
}

// Store 為持久化後端。Update 的寫入要嘛全部生效、要嘛完全不生效。
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
