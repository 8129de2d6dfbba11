// internal/server/server_test.go
//
// 本檔為 server 層的整合測試 (Integration Test)。
// 以 httptest.Server 模擬完整 HTTP 請求流程，驗證 API 與 bank 層之間的整合、
// 狀態正確性、錯誤代碼映射與登入驗證。
package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bankapp/internal/auth"
	"bankapp/internal/bank"
	"bankapp/internal/report"
	"bankapp/internal/storage"
)

// client 封裝測試伺服器與目前的 bearer token。
type client struct {
	t     *testing.T
	c     *http.Client
	base  string
	token string
}

func newTestServer(t *testing.T) *client {
	t.Helper()
	tokens, err := auth.NewTokens([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b := bank.NewBank(storage.NewMemory(), bank.WithTokens(tokens))
	ts := httptest.NewServer(NewServer(b, tokens).Router())
	t.Cleanup(ts.Close)
	return &client{t: t, c: ts.Client(), base: ts.URL}
}

// do 送出 JSON 請求並驗證狀態碼；若 out 非 nil 則解析 JSON 回應。
func (c *client) do(method, path string, body any, wantCode int, out any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.c.Do(req)
	if err != nil {
		c.t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		msg, _ := io.ReadAll(resp.Body)
		c.t.Fatalf("%s %s code=%d want=%d body=%s", method, path, resp.StatusCode, wantCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

func registration(username string) map[string]string {
	return map[string]string{
		"name":             "Test",
		"surname":          "User",
		"email":            username + "@example.com",
		"username":         username,
		"password":         "Secr3t!pw",
		"confirm_password": "Secr3t!pw",
	}
}

func (c *client) login(username string) {
	c.t.Helper()
	var out struct {
		Token string `json:"token"`
	}
	c.token = ""
	c.do("POST", "/login", map[string]string{"username": username, "password": "Secr3t!pw"}, 200, &out)
	if out.Token == "" {
		c.t.Fatal("login returned empty token")
	}
	c.token = out.Token
}

type receipt struct {
	Message string          `json:"message"`
	Balance decimal.Decimal `json:"balance"`
	Entries []storage.Entry `json:"entries"`
}

func TestHTTPFlow(t *testing.T) {
	c := newTestServer(t)

	var u struct {
		Username      string          `json:"username"`
		AccountNumber string          `json:"account_number"`
		Balance       decimal.Decimal `json:"balance"`
		PasswordHash  string          `json:"password_hash"`
	}
	c.do("POST", "/register", registration("alice"), 201, &u)
	if u.Username != "alice" || len(u.AccountNumber) != 10 || u.PasswordHash != "" {
		t.Fatalf("registered user=%+v", u)
	}
	c.do("POST", "/api/v1/register", registration("bob"), 201, nil)

	c.login("alice")

	var rc receipt
	c.do("POST", "/deposit", map[string]any{"amount": 200}, 200, &rc)
	if !rc.Balance.Equal(decimal.NewFromInt(200)) || rc.Message != "Successfully deposited R200.00." {
		t.Fatalf("deposit=%+v", rc)
	}
	c.do("POST", "/withdraw", map[string]any{"amount": "50"}, 200, &rc)
	c.do("POST", "/api/v1/transfer", map[string]any{"to": "bob", "amount": 100}, 200, &rc)
	if len(rc.Entries) != 2 || !rc.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("transfer=%+v", rc)
	}
	c.do("POST", "/send", map[string]any{"account": "EXT-9", "amount": 20}, 200, &rc)
	if !rc.Balance.Equal(decimal.RequireFromString("27.5")) {
		t.Fatalf("send balance=%s want 27.5", rc.Balance)
	}
	c.do("POST", "/accounts", map[string]any{"name": "Vacation", "initial_balance": "7.5"}, 201, &rc)

	var dash struct {
		Accounts []storage.SubAccount `json:"accounts"`
		Total    decimal.Decimal      `json:"total_balance"`
	}
	c.do("GET", "/dashboard", nil, 200, &dash)
	if len(dash.Accounts) != 2 || !dash.Total.Equal(decimal.RequireFromString("27.5")) {
		t.Fatalf("dashboard=%+v", dash)
	}

	var entries []storage.Entry
	c.do("GET", "/transactions?type=Withdrawal", nil, 200, &entries)
	if len(entries) != 1 || entries[0].Type != storage.TypeWithdrawal {
		t.Fatalf("filtered=%+v", entries)
	}
	c.do("GET", "/transactions?type=All", nil, 200, &entries)
	if len(entries) != 5 {
		t.Fatalf("all entries=%d want 5", len(entries))
	}
	c.do("GET", "/transactions?start=2000-01-01&end=2000-01-02", nil, 200, &entries)
	if len(entries) != 0 {
		t.Fatalf("out-of-range entries=%d want 0", len(entries))
	}
	c.do("GET", "/transactions?start=yesterday", nil, 400, nil)

	req, _ := http.NewRequest("GET", c.base+"/transactions/export", nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != report.ContentType {
		t.Fatalf("export code=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=transactions.csv" {
		t.Fatalf("content-disposition=%q", cd)
	}
	if lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n"); len(lines) != 6 {
		t.Fatalf("csv lines=%d want 6", len(lines))
	}

	c.login("bob")
	c.do("GET", "/dashboard", nil, 200, &dash)
	if !dash.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("bob total=%s want 100", dash.Total)
	}
}

func TestHTTPErrors(t *testing.T) {
	c := newTestServer(t)
	c.do("POST", "/register", registration("alice"), 201, nil)

	// 重複註冊 → 409
	c.do("POST", "/register", registration("alice"), 409, nil)

	// 多個欄位錯誤一次回傳 → 400
	bad := registration("")
	bad["email"] = "nope"
	bad["confirm_password"] = "other"
	var eb errorBody
	c.do("POST", "/register", bad, 400, &eb)
	if len(eb.Errors) != 3 {
		t.Fatalf("errors=%v want 3", eb.Errors)
	}

	// 未登入 → 401
	c.do("GET", "/dashboard", nil, 401, nil)
	c.token = "garbage"
	c.do("POST", "/deposit", map[string]any{"amount": 1}, 401, nil)
	c.token = ""
	c.do("POST", "/login", map[string]string{"username": "alice", "password": "wrong"}, 401, nil)

	c.login("alice")
	c.do("POST", "/deposit", map[string]any{"amount": 10}, 200, nil)

	c.do("POST", "/deposit", map[string]any{"amount": 0}, 400, nil)
	c.do("POST", "/withdraw", map[string]any{"amount": 11}, 409, nil)
	c.do("POST", "/transfer", map[string]any{"to": "ghost", "amount": 1}, 404, nil)
	c.do("POST", "/transfer", map[string]any{"to": "alice", "amount": 1}, 400, nil)
	c.do("POST", "/send", map[string]any{"account": "X", "amount": 8}, 409, nil)
	c.do("POST", "/accounts", map[string]any{"name": "Savings", "initial_balance": 0}, 409, nil)
	c.do("POST", "/deposit", "{bad json}", 400, nil)

	// 錯誤方法 → 405
	c.do("GET", "/transfer", nil, 405, nil)

	var rc receipt
	c.do("POST", "/withdraw", map[string]any{"amount": 10}, 200, &rc)
	if !rc.Balance.IsZero() {
		t.Fatalf("balance=%s want 0", rc.Balance)
	}
}

func TestProfileAndHealth(t *testing.T) {
	c := newTestServer(t)
	c.do("GET", "/health", nil, 200, nil)
	c.do("GET", "/api/v1/health", nil, 200, nil)

	c.do("POST", "/register", registration("alice"), 201, nil)
	c.login("alice")

	var u struct {
		Name string `json:"name"`
	}
	c.do("POST", "/profile", map[string]string{"name": "Alicia"}, 200, &u)
	if u.Name != "Alicia" {
		t.Fatalf("name=%q", u.Name)
	}
	c.do("POST", "/profile", map[string]string{
		"current_password": "bad", "new_password": "N3w!pass", "confirm_password": "N3w!pass",
	}, 401, nil)
}
