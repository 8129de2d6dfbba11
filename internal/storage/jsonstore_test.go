// internal/storage/jsonstore_test.go
//
// 驗證 JSON 快照的序列化與 JSONStore 的交易語意：
// 成功的 Update 會完整落地，失敗的 Update 不留下任何痕跡，重新開啟後數值一致。
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func testUser(username string, balance decimal.Decimal) User {
	return User{
		AccountNumber: "1234567890",
		Name:          "Test",
		Surname:       "User",
		Email:         username + "@example.com",
		Username:      username,
		PasswordHash:  "hash",
		Balance:       balance,
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// TestJSONSnapshotRoundTrip 驗證快照寫入檔案後可完整讀回。
func TestJSONSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	orig := emptySnapshot()
	orig.NextSeq = 1
	orig.Users = []User{testUser("alice", dec(t, "100.1"))}
	orig.Accounts["alice"] = []SubAccount{{Owner: "alice", Name: "Savings", Balance: dec(t, "0.2")}}
	orig.Transactions["alice"] = []Entry{{
		Seq: 1, Owner: "alice", Type: TypeDeposit, Amount: dec(t, "100.1"),
		Details: "Deposit to main account", BalanceAfter: dec(t, "100.1"),
	}}

	if err := SaveSnapshot(path, orig); err != nil {
		t.Fatalf("SaveSnapshot err=%v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("tmp file should be renamed away, stat err=%v", err)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot err=%v", err)
	}
	if loaded.Meta.Storage != "json_snapshot" || loaded.Meta.Version != snapshotVersion {
		t.Fatalf("meta mismatch: %+v", loaded.Meta)
	}
	if len(loaded.Users) != 1 || !loaded.Users[0].Balance.Equal(dec(t, "100.1")) {
		t.Fatalf("users mismatch: %+v", loaded.Users)
	}
	if got := loaded.Accounts["alice"]; len(got) != 1 || !got[0].Balance.Equal(dec(t, "0.2")) {
		t.Fatalf("accounts mismatch: %+v", got)
	}
	if got := loaded.Transactions["alice"]; len(got) != 1 || got[0].Type != TypeDeposit {
		t.Fatalf("transactions mismatch: %+v", got)
	}
}

// TestJSONStorePersistsAcrossReopen 驗證 Update 落地後重新開啟，十進位金額不產生誤差。
func TestJSONStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "bank.json")

	s, err := OpenJSON(path)
	if err != nil {
		t.Fatalf("OpenJSON err=%v", err)
	}
	err = s.Update(ctx, func(tx Tx) error {
		if err := tx.CreateUser(ctx, testUser("alice", decimal.Zero)); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, "alice", dec(t, "0.3")); err != nil {
			return err
		}
		_, err := tx.AppendEntry(ctx, Entry{Owner: "alice", Type: TypeDeposit, Amount: dec(t, "0.3"), BalanceAfter: dec(t, "0.3")})
		return err
	})
	if err != nil {
		t.Fatalf("Update err=%v", err)
	}

	s2, err := OpenJSON(path)
	if err != nil {
		t.Fatalf("reopen err=%v", err)
	}
	err = s2.View(ctx, func(tx Tx) error {
		u, err := tx.GetUser(ctx, "alice")
		if err != nil {
			return err
		}
		if !u.Balance.Equal(dec(t, "0.3")) {
			t.Fatalf("balance=%s want 0.3", u.Balance)
		}
		h, err := tx.History(ctx, "alice")
		if err != nil {
			return err
		}
		if len(h) != 1 || h[0].Seq != 1 {
			t.Fatalf("history=%+v", h)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View err=%v", err)
	}
}

// TestJSONStoreUpdateRollback 驗證 fn 回傳錯誤時，先前的寫入全數捨棄。
func TestJSONStoreUpdateRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.Update(ctx, func(tx Tx) error { return tx.CreateUser(ctx, testUser("alice", dec(t, "10"))) }); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.SetBalance(ctx, "alice", dec(t, "99")); err != nil {
			return err
		}
		if err := tx.AddAccount(ctx, SubAccount{Owner: "alice", Name: "Trip", Balance: dec(t, "1")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	snap := s.Snapshot()
	if !snap.Users[0].Balance.Equal(dec(t, "10")) {
		t.Fatalf("balance leaked from failed update: %s", snap.Users[0].Balance)
	}
	if len(snap.Accounts["alice"]) != 0 {
		t.Fatalf("account leaked from failed update: %+v", snap.Accounts["alice"])
	}
}

// TestJSONStoreConstraints 驗證唯一鍵、找不到紀錄與唯讀交易的錯誤。
func TestJSONStoreConstraints(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.CreateUser(ctx, testUser("alice", decimal.Zero)); err != nil {
			return err
		}
		if err := tx.CreateUser(ctx, testUser("alice", decimal.Zero)); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("duplicate user: want ErrAlreadyExists, got %v", err)
		}
		if _, err := tx.GetUser(ctx, "bob"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing user: want ErrNotFound, got %v", err)
		}
		if err := tx.SetBalance(ctx, "bob", decimal.Zero); !errors.Is(err, ErrNotFound) {
			t.Fatalf("set balance missing user: want ErrNotFound, got %v", err)
		}
		if err := tx.SetBalance(ctx, "alice", dec(t, "-1")); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("negative balance: want ErrInvalidRecord, got %v", err)
		}
		a := SubAccount{Owner: "alice", Name: "Savings"}
		if err := tx.AddAccount(ctx, a); err != nil {
			return err
		}
		if err := tx.AddAccount(ctx, a); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("duplicate account: want ErrAlreadyExists, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.View(ctx, func(tx Tx) error {
		accts, err := tx.ListAccounts(ctx, "nobody")
		if err != nil || len(accts) != 0 {
			t.Fatalf("unknown user accounts=%v err=%v", accts, err)
		}
		return tx.SetBalance(ctx, "alice", decimal.Zero)
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("write in View: want ErrReadOnly, got %v", err)
	}
}

// TestOpenJSONRejectsMalformed 驗證格式錯誤或紀錄不合法的快照會使開啟失敗。
func TestOpenJSONRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(garbage, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenJSON(garbage); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("garbage: want ErrInvalidRecord, got %v", err)
	}

	negative := filepath.Join(dir, "negative.json")
	snap := emptySnapshot()
	snap.Users = []User{testUser("alice", dec(t, "-5"))}
	if err := SaveSnapshot(negative, snap); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenJSON(negative); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("negative balance: want ErrInvalidRecord, got %v", err)
	}
}
