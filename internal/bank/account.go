// internal/bank/account.go
//
// 本檔定義對外的結果型別與輸入結構，不含任何 HTTP 或儲存細節。

package bank

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bankapp/internal/storage"
)

// TransferFee 為對外匯款 (SendMoney) 的固定手續費；手續費不入任何帳戶。
var TransferFee = decimal.RequireFromString("2.5")

// DefaultAccountName 為註冊時自動建立的零餘額子帳戶名稱。
const DefaultAccountName = "Savings"

// Receipt 為一次成功的餘額異動結果。
// Entries 為本次追加的交易紀錄（轉帳時依序為轉出方與轉入方），
// Balance 為操作者的新主帳戶餘額，Message 為可直接顯示給使用者的訊息。
type Receipt struct {
	Entries []storage.Entry
	Balance decimal.Decimal
	Message string
}

// Registration 為註冊表單內容。
type Registration struct {
	Name            string
	Surname         string
	Phone           string
	IDNumber        string
	Email           string
	Username        string
	Password        string
	ConfirmPassword string
}

// ProfileUpdate 為個人資料變更內容；空字串欄位代表不變更。
// 變更密碼時 CurrentPassword、NewPassword、ConfirmPassword 須一併提供。
type ProfileUpdate struct {
	Name            string
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// Session 為登入成功後的結果。
type Session struct {
	User  storage.User
	Token string
}

// Dashboard 為首頁所需的使用者、子帳戶與總餘額。
type Dashboard struct {
	User     storage.User
	Accounts []storage.SubAccount
	Total    decimal.Decimal
}

// newAccountNumber 由隨機 UUID 的整數值取前 10 位數字作為帳號。
func newAccountNumber() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return n.String()[:10]
}
