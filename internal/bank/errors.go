// internal/bank/errors.go
//
// 本檔集中定義領域錯誤（domain errors）。
// 每個錯誤帶有 Kind 分類，上層 HTTP handler 依 Kind 轉換成對應的 HTTP 狀態碼。
// 所有錯誤皆以回傳值交給呼叫端，不做跨層的流程控制。

package bank

import (
	"errors"
	"fmt"
)

// Kind 為錯誤分類。
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation 輸入不合法；操作中止且狀態不變，呼叫端可重新輸入。
	KindValidation
	// KindNotFound 使用者、收款人或帳戶不存在。
	KindNotFound
	// KindInsufficientFunds 餘額不足。
	KindInsufficientFunds
	// KindDuplicate username 或子帳戶名稱重複。
	KindDuplicate
	// KindAuth 帳號或密碼錯誤。
	KindAuth
	// KindPersistence 儲存層讀寫失敗；本次操作失敗且不會部分生效。
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindDuplicate:
		return "duplicate"
	case KindAuth:
		return "auth"
	case KindPersistence:
		return "persistence"
	}
	return "unknown"
}

// Error 為帶分類的領域錯誤。以指標比對身分，errors.Is 可直接比對下列哨兵值。
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

var (
	// ErrInvalidAmount 代表金額非法（<= 0，或子帳戶初始餘額為負）。
	ErrInvalidAmount = newError(KindValidation, "invalid amount")
	// ErrSameAccount 代表轉帳來源與目標為同一使用者。
	ErrSameAccount = newError(KindValidation, "sender and recipient are the same")
	// ErrInvalidAccountName 代表子帳戶名稱為空。
	ErrInvalidAccountName = newError(KindValidation, "account name is required")
	// ErrInvalidUsername 代表註冊時 username 為空。
	ErrInvalidUsername = newError(KindValidation, "username is required")
	// ErrInvalidEmail 代表 email 格式錯誤。
	ErrInvalidEmail = newError(KindValidation, "invalid email format")
	// ErrWeakPassword 代表密碼不符合強度規則；實際規則以 %w 一併包裝。
	ErrWeakPassword = newError(KindValidation, "weak password")
	// ErrPasswordMismatch 代表兩次輸入的密碼不一致。
	ErrPasswordMismatch = newError(KindValidation, "passwords do not match")

	// ErrUserNotFound 代表操作者或帳戶擁有者不存在。
	ErrUserNotFound = newError(KindNotFound, "user not found")
	// ErrRecipientNotFound 代表轉帳收款人不存在。
	ErrRecipientNotFound = newError(KindNotFound, "recipient not found")

	// ErrInsufficientFunds 代表餘額不足。
	ErrInsufficientFunds = newError(KindInsufficientFunds, "insufficient funds")

	// ErrDuplicateUsername 代表 username 已被註冊。
	ErrDuplicateUsername = newError(KindDuplicate, "username already exists")
	// ErrDuplicateAccountName 代表同一使用者下已有同名子帳戶。
	ErrDuplicateAccountName = newError(KindDuplicate, "account name already exists")

	// ErrInvalidCredentials 代表帳號或密碼錯誤。
	ErrInvalidCredentials = newError(KindAuth, "invalid username or password")

	// ErrPersistence 代表儲存層失敗；實際原因以 %w 一併包裝。
	ErrPersistence = newError(KindPersistence, "persistence failure")
)

// KindOf 回傳 err 鏈上第一個領域錯誤的分類；非領域錯誤回傳 KindUnknown。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// persistence 將儲存層錯誤包裝成 ErrPersistence，保留原始原因。
func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
