// cmd/server/main.go

// 本服務提供註冊、登入、存提款、轉帳、對外匯款、子帳戶與交易查詢的 JSON API。
// 此檔案負責讀取設定、開啟儲存後端、組裝模組（bank, server）並啟動 HTTP 伺服器；
// 收到 SIGINT/SIGTERM 時停止接收新請求，等待進行中的請求結束後關閉儲存後端。

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bankapp/internal/auth"
	"bankapp/internal/bank"
	"bankapp/internal/config"
	"bankapp/internal/server"
	"bankapp/internal/storage"
	"bankapp/internal/storage/postgres"
	"bankapp/internal/storage/sqlite"
	"bankapp/internal/telemetry"
)

const serviceName = "bankapp"

func main() {
	log.SetPrefix("bankapp: ")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open %s storage: %v", cfg.Storage, err)
	}

	tokens, err := auth.NewTokens([]byte(cfg.JWTSecret), cfg.SessionTTL)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	b := bank.NewBank(store, bank.WithTokens(tokens))
	s := server.NewServer(b, tokens)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("listening on %s (storage=%s)", ln.Addr(), cfg.Storage)
	if err := serve(ctx, srv, ln, 10*time.Second); err != nil {
		log.Printf("serve: %v", err)
	}

	if err := store.Close(); err != nil {
		log.Printf("close storage: %v", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
}

// openStore 依設定開啟儲存後端。
func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	default:
		return storage.OpenJSON(cfg.DataPath)
	}
}

// serve 在 ln 上提供服務，直到 ctx 結束。
// 回傳前會等待 Shutdown 完成（進行中的請求皆已結束或超過 grace），
// 呼叫端之後才能安全地關閉儲存後端。
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// Serve 在 Shutdown 開始時即回傳，需等 Shutdown 結束。
	if err := <-done; err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
