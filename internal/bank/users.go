// internal/bank/users.go
//
// 註冊、登入與個人資料變更。
// 註冊時所有欄位錯誤一次收集後以 errors.Join 回傳，方便前端一次顯示。

package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bankapp/internal/auth"
	"bankapp/internal/storage"
)

// Register 建立新使用者，主帳戶餘額為 0，並附帶一個零餘額的 Savings 子帳戶。
// 建立子帳戶不移動任何金額，因此不寫入交易紀錄。
func (b *Bank) Register(ctx context.Context, r Registration) (storage.User, error) {
	ctx, span := b.start(ctx, "Register", r.Username)
	defer span.End()

	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)

	var errs []error
	if r.Username == "" {
		errs = append(errs, ErrInvalidUsername)
	}
	if err := auth.ValidateEmail(r.Email); err != nil {
		errs = append(errs, ErrInvalidEmail)
	}
	if err := auth.ValidatePassword(r.Password); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrWeakPassword, err))
	}
	if r.Password != r.ConfirmPassword {
		errs = append(errs, ErrPasswordMismatch)
	}
	if r.Username != "" {
		err := b.store.View(ctx, func(tx storage.Tx) error {
			_, err := tx.GetUser(ctx, r.Username)
			return err
		})
		switch {
		case err == nil:
			errs = append(errs, ErrDuplicateUsername)
		case !errors.Is(err, storage.ErrNotFound):
			return storage.User{}, b.fail(span, "register", persistence("get user", err))
		}
	}
	if len(errs) > 0 {
		return storage.User{}, b.fail(span, "register", errors.Join(errs...))
	}

	hash, err := auth.HashPassword(r.Password)
	if err != nil {
		return storage.User{}, b.fail(span, "register", err)
	}
	u := storage.User{
		AccountNumber: newAccountNumber(),
		Name:          strings.TrimSpace(r.Name),
		Surname:       strings.TrimSpace(r.Surname),
		Phone:         strings.TrimSpace(r.Phone),
		IDNumber:      strings.TrimSpace(r.IDNumber),
		Email:         r.Email,
		Username:      r.Username,
		PasswordHash:  hash,
		Balance:       decimal.Zero,
		CreatedAt:     b.now().UTC(),
	}

	defer b.locks.lock(u.Username)()
	err = b.store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return ErrDuplicateUsername
			}
			return persistence("create user", err)
		}
		if err := tx.AddAccount(ctx, storage.SubAccount{Owner: u.Username, Name: DefaultAccountName, Balance: decimal.Zero}); err != nil {
			return persistence("add account", err)
		}
		return nil
	})
	if err != nil {
		return storage.User{}, b.fail(span, "register", err)
	}
	return u, nil
}

// Authenticate 驗證帳號密碼；帳號不存在與密碼錯誤回傳相同的錯誤。
// 若已設定 token 簽發器，Session 內附帶一個新的 session token。
func (b *Bank) Authenticate(ctx context.Context, username, password string) (Session, error) {
	ctx, span := b.start(ctx, "Authenticate", username)
	defer span.End()

	u, err := b.User(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		// 帳號不存在時仍執行一次 bcrypt 比對，避免以回應時間判斷帳號是否存在。
		b.checkPassword(auth.DummyHash(), password)
		return Session{}, b.fail(span, "authenticate", ErrInvalidCredentials)
	case err != nil:
		return Session{}, b.fail(span, "authenticate", err)
	case !b.checkPassword(u.PasswordHash, password):
		return Session{}, b.fail(span, "authenticate", ErrInvalidCredentials)
	}

	s := Session{User: u}
	if b.tokens != nil {
		if s.Token, err = b.tokens.Issue(u.Username); err != nil {
			return Session{}, b.fail(span, "authenticate", err)
		}
	}
	return s, nil
}

// UpdateProfile 變更名稱與（或）密碼。
// 變更密碼須提供正確的目前密碼，且新密碼須符合強度規則並與確認欄位一致。
func (b *Bank) UpdateProfile(ctx context.Context, username string, p ProfileUpdate) (storage.User, error) {
	ctx, span := b.start(ctx, "UpdateProfile", username)
	defer span.End()

	var upd storage.UserUpdate
	if name := strings.TrimSpace(p.Name); name != "" {
		upd.Name = &name
	}
	changePassword := p.NewPassword != "" || p.ConfirmPassword != ""
	if changePassword {
		if p.NewPassword != p.ConfirmPassword {
			return storage.User{}, b.fail(span, "update profile", ErrPasswordMismatch)
		}
		if err := auth.ValidatePassword(p.NewPassword); err != nil {
			return storage.User{}, b.fail(span, "update profile", fmt.Errorf("%w: %w", ErrWeakPassword, err))
		}
	}
	defer b.locks.lock(username)()

	var out storage.User
	err := b.store.Update(ctx, func(tx storage.Tx) error {
		u, err := getUser(ctx, tx, username, ErrUserNotFound)
		if err != nil {
			return err
		}
		if changePassword {
			if !b.checkPassword(u.PasswordHash, p.CurrentPassword) {
				return ErrInvalidCredentials
			}
			hash, err := auth.HashPassword(p.NewPassword)
			if err != nil {
				return err
			}
			upd.PasswordHash = &hash
		}
		if upd.Name == nil && upd.PasswordHash == nil {
			out = u
			return nil
		}
		if err := tx.UpdateUser(ctx, username, upd); err != nil {
			return persistence("update user", err)
		}
		out, err = getUser(ctx, tx, username, ErrUserNotFound)
		return err
	})
	if err != nil {
		return storage.User{}, b.fail(span, "update profile", err)
	}
	return out, nil
}

func trimName(s string) string { return strings.TrimSpace(s) }
