// internal/server/router.go
//
// 本檔負責 HTTP 路由註冊與登入驗證中介層。
// 路由使用 net/http 的「方法 + 路徑」樣式，方法不符時由 ServeMux 自動回傳 405。
package server

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// authedHandler 為需要登入的 handler，username 取自已驗證的 session token。
type authedHandler func(w http.ResponseWriter, r *http.Request, username string)

// authed 驗證 Authorization: Bearer <token>，失敗回傳 401。
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.tokens == nil {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := s.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
		h(w, r, username)
	}
}

// Router 建立並回傳整個 HTTP 處理鏈（外層包上 otelhttp 追蹤）。
func (s *Server) Router() http.Handler {
	v1 := http.NewServeMux()

	v1.HandleFunc("GET /health", s.health)

	v1.HandleFunc("POST /register", s.register)
	v1.HandleFunc("POST /login", s.login)

	v1.HandleFunc("GET /dashboard", s.authed(s.dashboard))
	v1.HandleFunc("POST /deposit", s.authed(s.deposit))
	v1.HandleFunc("POST /withdraw", s.authed(s.withdraw))
	v1.HandleFunc("POST /transfer", s.authed(s.transfer))
	v1.HandleFunc("POST /send", s.authed(s.send))
	v1.HandleFunc("GET /accounts", s.authed(s.listAccounts))
	v1.HandleFunc("POST /accounts", s.authed(s.createAccount))
	v1.HandleFunc("GET /transactions", s.authed(s.transactions))
	v1.HandleFunc("GET /transactions/export", s.authed(s.export))
	v1.HandleFunc("POST /profile", s.authed(s.profile))

	// 同一組端點同時掛在 /api/v1/ 與根路徑 /。
	root := http.NewServeMux()
	root.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	root.Handle("/", v1)

	return otelhttp.NewHandler(root, "bankapp")
}
