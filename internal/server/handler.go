// internal/server/handler.go
//
// Package server
// ─────────────────────────────────────────────
// 提供 JSON HTTP 介面，作為 bank 模組的應用層 (Application Layer)。
// 每個 handler 僅負責：
//  1. 接收與驗證 HTTP 請求
//  2. 呼叫 bank 層執行商業邏輯
//  3. 回傳標準化 JSON 回應
//
// 持久化完全由 bank 注入的 Store 負責，handler 不再處理快照。
package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"bankapp/internal/auth"
	"bankapp/internal/bank"
	"bankapp/internal/report"
	"bankapp/internal/storage"
)

// Server 為 HTTP 層核心結構：
// - Bank：注入商業邏輯層（銀行核心）。
// - tokens：驗證 Authorization: Bearer 標頭中的 session token。
type Server struct {
	Bank   *bank.Bank
	tokens *auth.Tokens
}

// NewServer 建立新的 HTTP 伺服器。
func NewServer(b *bank.Bank, tokens *auth.Tokens) *Server {
	return &Server{Bank: b, tokens: tokens}
}

// userView 為對外輸出的使用者資料，不含密碼雜湊。
type userView struct {
	AccountNumber string          `json:"account_number"`
	Name          string          `json:"name"`
	Surname       string          `json:"surname"`
	Phone         string          `json:"phone"`
	IDNumber      string          `json:"id_number"`
	Email         string          `json:"email"`
	Username      string          `json:"username"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

func viewUser(u storage.User) userView {
	return userView{
		AccountNumber: u.AccountNumber,
		Name:          u.Name,
		Surname:       u.Surname,
		Phone:         u.Phone,
		IDNumber:      u.IDNumber,
		Email:         u.Email,
		Username:      u.Username,
		Balance:       u.Balance,
		CreatedAt:     u.CreatedAt,
	}
}

type receiptView struct {
	Message string          `json:"message"`
	Balance decimal.Decimal `json:"balance"`
	Entries []storage.Entry `json:"entries"`
}

func viewReceipt(rc bank.Receipt) receiptView {
	return receiptView{Message: rc.Message, Balance: rc.Balance, Entries: rc.Entries}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// register 處理 POST /register。
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name"`
		Surname         string `json:"surname"`
		Phone           string `json:"phone"`
		IDNumber        string `json:"id_number"`
		Email           string `json:"email"`
		Username        string `json:"username"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !decode(w, r, &req) {
		return
	}
	u, err := s.Bank.Register(r.Context(), bank.Registration(req))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewUser(u))
}

// login 處理 POST /login，成功時回傳 session token。
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.Bank.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": sess.Token,
		"user":  viewUser(sess.User),
	})
}

// dashboard 處理 GET /dashboard。
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request, username string) {
	d, err := s.Bank.Dashboard(r.Context(), username)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          viewUser(d.User),
		"accounts":      nonNil(d.Accounts),
		"total_balance": d.Total,
	})
}

// deposit 處理 POST /deposit。
func (s *Server) deposit(w http.ResponseWriter, r *http.Request, username string) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	rc, err := s.Bank.Deposit(r.Context(), username, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReceipt(rc))
}

// withdraw 處理 POST /withdraw。
func (s *Server) withdraw(w http.ResponseWriter, r *http.Request, username string) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	rc, err := s.Bank.Withdraw(r.Context(), username, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReceipt(rc))
}

// transfer 處理 POST /transfer：JSON {to, amount}，轉出方為登入者。
func (s *Server) transfer(w http.ResponseWriter, r *http.Request, username string) {
	var req struct {
		To     string          `json:"to"`
		Amount decimal.Decimal `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	rc, err := s.Bank.Transfer(r.Context(), username, req.To, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReceipt(rc))
}

// send 處理 POST /send：對外匯款，JSON {account, amount}。
func (s *Server) send(w http.ResponseWriter, r *http.Request, username string) {
	var req struct {
		Account string          `json:"account"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	rc, err := s.Bank.SendMoney(r.Context(), username, req.Account, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReceipt(rc))
}

// listAccounts 處理 GET /accounts。
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request, username string) {
	accts, err := s.Bank.Accounts(r.Context(), username)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accts))
}

// createAccount 處理 POST /accounts：JSON {name, initial_balance}。
func (s *Server) createAccount(w http.ResponseWriter, r *http.Request, username string) {
	var req struct {
		Name           string          `json:"name"`
		InitialBalance decimal.Decimal `json:"initial_balance"`
	}
	if !decode(w, r, &req) {
		return
	}
	rc, err := s.Bank.CreateAccount(r.Context(), username, req.Name, req.InitialBalance)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewReceipt(rc))
}

// transactions 處理 GET /transactions?type=&start=&end=。
func (s *Server) transactions(w http.ResponseWriter, r *http.Request, username string) {
	q := r.URL.Query()
	start, end, err := report.ParseDateBounds(q.Get("start"), q.Get("end"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.Bank.Transactions(r.Context(), username, report.Filter{Type: q.Get("type"), Start: start, End: end})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// export 處理 GET /transactions/export，以附件方式下載 CSV。
// 先寫入緩衝區，失敗時仍能回傳正確的錯誤狀態碼。
func (s *Server) export(w http.ResponseWriter, r *http.Request, username string) {
	var buf bytes.Buffer
	if err := s.Bank.ExportTransactionsCSV(r.Context(), username, &buf); err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+report.Filename)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// profile 處理 POST /profile。
func (s *Server) profile(w http.ResponseWriter, r *http.Request, username string) {
	var req struct {
		Name            string `json:"name"`
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !decode(w, r, &req) {
		return
	}
	u, err := s.Bank.UpdateProfile(r.Context(), username, bank.ProfileUpdate(req))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(u))
}

// health 提供健康檢查端點：GET /health。
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode 解析 JSON 請求內容；失敗時直接回傳 400。
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// nonNil 讓空集合輸出為 [] 而非 null。
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
