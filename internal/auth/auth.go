// internal/auth/auth.go
//
// Package auth 提供註冊與登入所需的憑證規則：
// email 格式、密碼強度、bcrypt 雜湊，以及以 JWT 簽發的登入 session token。
package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// PasswordSymbols 為密碼強度規則接受的符號集合。
const PasswordSymbols = `!@#$%^&*(),.?":{}|<>`

// MinPasswordLength 為密碼最短長度。
const MinPasswordLength = 8

var (
	ErrInvalidEmail = errors.New("invalid email format")

	ErrPasswordTooShort  = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	ErrPasswordNoUpper   = errors.New("password must include at least one uppercase letter")
	ErrPasswordNoLower   = errors.New("password must include at least one lowercase letter")
	ErrPasswordNoDigit   = errors.New("password must include at least one number")
	ErrPasswordNoSymbol  = errors.New("password must include at least one special character")
	ErrInvalidToken      = errors.New("invalid session token")
	ErrMissingSigningKey = errors.New("session signing key is required")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// ValidateEmail 檢查 email 格式。
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword 依序檢查長度、大寫、小寫、數字與符號，回傳第一個不符合的規則。
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return ErrPasswordNoUpper
	case !lower:
		return ErrPasswordNoLower
	case !digit:
		return ErrPasswordNoDigit
	case !symbol:
		return ErrPasswordNoSymbol
	}
	return nil
}

// HashPassword 以 bcrypt 產生密碼雜湊。
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// DummyHash 回傳一個固定的 bcrypt 雜湊，cost 與 HashPassword 相同。
// 帳號不存在時仍以它比對一次，回應時間與密碼錯誤時相近。
var DummyHash = sync.OnceValue(func() string {
	hashed, err := bcrypt.GenerateFromPassword([]byte("no-such-user-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("auth: dummy hash: %v", err))
	}
	return string(hashed)
})

// CheckPassword 回報 password 是否符合 hash。
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Tokens 簽發與驗證 HS256 session token；subject 即為 username。
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens 建立 token 簽發器；secret 不可為空，ttl <= 0 時使用 24 小時。
func NewTokens(secret []byte, ttl time.Duration) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSigningKey
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue 為 username 簽發一個新的 session token。
func (t *Tokens) Issue(username string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse 驗證 token 的簽章與有效期限，回傳其中的 username。
func (t *Tokens) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
