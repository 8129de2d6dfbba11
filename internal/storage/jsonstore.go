// internal/storage/jsonstore.go
//
// 提供以 JSON 快照 (Snapshot) 為基礎的 Store 實作。
// 每次 Update 都在狀態副本上執行，成功後整份快照以「原子寫入」落地：
// 先寫入 .tmp 檔，再以 rename() 取代原檔；任何一步失敗，記憶體與磁碟皆維持原狀。
// path 為空字串時僅保存在記憶體中（測試與暫時性使用）。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const snapshotVersion = 1

// Meta 為快照的中繼資料。
type Meta struct {
	Storage   string    `json:"storage"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Snapshot 為整個銀行狀態的完整快照。
// Accounts 與 Transactions 以 username 為鍵，各自維持插入順序。
type Snapshot struct {
	Meta         Meta                    `json:"_meta"`
	NextSeq      int64                   `json:"next_seq"`
	Users        []User                  `json:"users"`
	Accounts     map[string][]SubAccount `json:"accounts"`
	Transactions map[string][]Entry      `json:"transactions"`
}

// Validate 檢查快照內每一筆紀錄；任何不合法的紀錄都會使整份快照被拒絕。
func (s Snapshot) Validate() error {
	seen := make(map[string]bool, len(s.Users))
	for _, u := range s.Users {
		if err := u.Validate(); err != nil {
			return err
		}
		if seen[u.Username] {
			return fmt.Errorf("%w: duplicate username %q", ErrInvalidRecord, u.Username)
		}
		seen[u.Username] = true
	}
	for owner, accts := range s.Accounts {
		names := make(map[string]bool, len(accts))
		for _, a := range accts {
			if a.Owner != owner {
				return fmt.Errorf("%w: sub-account %q filed under %q", ErrInvalidRecord, a.Name, owner)
			}
			if err := a.Validate(); err != nil {
				return err
			}
			if names[a.Name] {
				return fmt.Errorf("%w: duplicate sub-account %q for %q", ErrInvalidRecord, a.Name, owner)
			}
			names[a.Name] = true
		}
	}
	for owner, entries := range s.Transactions {
		for _, e := range entries {
			if e.Owner != owner {
				return fmt.Errorf("%w: entry %d filed under %q", ErrInvalidRecord, e.Seq, owner)
			}
			if err := e.Validate(); err != nil {
				return err
			}
			if e.Seq > s.NextSeq {
				return fmt.Errorf("%w: entry seq %d beyond next_seq %d", ErrInvalidRecord, e.Seq, s.NextSeq)
			}
		}
	}
	return nil
}

// clone 深拷貝快照，讓 Update 可在副本上自由修改。
func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Meta:         s.Meta,
		NextSeq:      s.NextSeq,
		Users:        append([]User(nil), s.Users...),
		Accounts:     make(map[string][]SubAccount, len(s.Accounts)),
		Transactions: make(map[string][]Entry, len(s.Transactions)),
	}
	for k, v := range s.Accounts {
		out.Accounts[k] = append([]SubAccount(nil), v...)
	}
	for k, v := range s.Transactions {
		out.Transactions[k] = append([]Entry(nil), v...)
	}
	return out
}

// LoadSnapshot 讀取指定路徑的 JSON 快照並解析成 Snapshot 結構。
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	d := json.NewDecoder(f)
	d.DisallowUnknownFields()
	if err := d.Decode(&snap); err != nil {
		return snap, fmt.Errorf("%w: decode %s: %v", ErrInvalidRecord, path, err)
	}
	return snap, nil
}

// SaveSnapshot 將 Snapshot 序列化為 JSON 檔案，並採原子方式寫入：
// 寫入 path+".tmp"、fsync 後以 os.Rename() 取代正式檔案。
func SaveSnapshot(path string, snap Snapshot) error {
	snap.Meta.Storage = "json_snapshot"
	snap.Meta.Version = snapshotVersion
	snap.Meta.Timestamp = time.Now().UTC()
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// JSONStore 以單一 JSON 快照檔保存全部狀態。
// mu 序列化所有讀寫；snap 永遠是最後一次成功落地的狀態。
type JSONStore struct {
	mu   sync.Mutex
	path string
	snap Snapshot
}

// NewMemory 建立只存在記憶體中的 JSONStore。
func NewMemory() *JSONStore {
	return &JSONStore{snap: emptySnapshot()}
}

// OpenJSON 開啟（或初始化）path 上的 JSON 快照。
// 檔案不存在時以空狀態啟動；檔案格式錯誤或紀錄不合法時回傳錯誤，不會略過任何紀錄。
func OpenJSON(path string) (*JSONStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	snap, err := LoadSnapshot(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		snap = emptySnapshot()
	case err != nil:
		return nil, err
	}
	if snap.Accounts == nil {
		snap.Accounts = make(map[string][]SubAccount)
	}
	if snap.Transactions == nil {
		snap.Transactions = make(map[string][]Entry)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &JSONStore{path: path, snap: snap}, nil
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Meta:         Meta{Storage: "json_snapshot", Version: snapshotVersion},
		Accounts:     make(map[string][]SubAccount),
		Transactions: make(map[string][]Entry),
	}
}

// Snapshot 回傳目前已提交狀態的深拷貝。
func (s *JSONStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// View 以唯讀方式執行 fn。
func (s *JSONStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&jsonTx{snap: &s.snap})
}

// Update 在狀態副本上執行 fn；fn 成功且有寫入時，先落地再替換記憶體狀態。
func (s *JSONStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.snap.clone()
	tx := &jsonTx{snap: &work, writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if s.path != "" {
		if err := SaveSnapshot(s.path, work); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	s.snap = work
	return nil
}

// Close 為介面相容；JSONStore 不持有開啟中的檔案。
func (s *JSONStore) Close() error { return nil }

// jsonTx 直接操作快照（Update 時為副本）。
// 使用者筆數不多，查找採線性掃描。
type jsonTx struct {
	snap     *Snapshot
	writable bool
	dirty    bool
}

func (t *jsonTx) write() error {
	if !t.writable {
		return ErrReadOnly
	}
	t.dirty = true
	return nil
}

func (t *jsonTx) find(username string) int {
	for i := range t.snap.Users {
		if t.snap.Users[i].Username == username {
			return i
		}
	}
	return -1
}

func (t *jsonTx) CreateUser(ctx context.Context, u User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if t.find(u.Username) >= 0 {
		return ErrAlreadyExists
	}
	if err := t.write(); err != nil {
		return err
	}
	t.snap.Users = append(t.snap.Users, u)
	return nil
}

func (t *jsonTx) GetUser(ctx context.Context, username string) (User, error) {
	i := t.find(username)
	if i < 0 {
		return User{}, ErrNotFound
	}
	return t.snap.Users[i], nil
}

func (t *jsonTx) UpdateUser(ctx context.Context, username string, upd UserUpdate) error {
	i := t.find(username)
	if i < 0 {
		return ErrNotFound
	}
	if err := t.write(); err != nil {
		return err
	}
	if upd.Name != nil {
		t.snap.Users[i].Name = *upd.Name
	}
	if upd.PasswordHash != nil {
		t.snap.Users[i].PasswordHash = *upd.PasswordHash
	}
	return nil
}

func (t *jsonTx) SetBalance(ctx context.Context, username string, balance decimal.Decimal) error {
	i := t.find(username)
	if i < 0 {
		return ErrNotFound
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: negative balance for %q", ErrInvalidRecord, username)
	}
	if err := t.write(); err != nil {
		return err
	}
	t.snap.Users[i].Balance = balance
	return nil
}

func (t *jsonTx) ListAccounts(ctx context.Context, username string) ([]SubAccount, error) {
	return append([]SubAccount{}, t.snap.Accounts[username]...), nil
}

func (t *jsonTx) AddAccount(ctx context.Context, a SubAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	for _, existing := range t.snap.Accounts[a.Owner] {
		if existing.Name == a.Name {
			return ErrAlreadyExists
		}
	}
	if err := t.write(); err != nil {
		return err
	}
	t.snap.Accounts[a.Owner] = append(t.snap.Accounts[a.Owner], a)
	return nil
}

func (t *jsonTx) AppendEntry(ctx context.Context, e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if err := t.write(); err != nil {
		return Entry{}, err
	}
	t.snap.NextSeq++
	e.Seq = t.snap.NextSeq
	t.snap.Transactions[e.Owner] = append(t.snap.Transactions[e.Owner], e)
	return e, nil
}

func (t *jsonTx) History(ctx context.Context, username string) ([]Entry, error) {
	return append([]Entry{}, t.snap.Transactions[username]...), nil
}

var _ Store = (*JSONStore)(nil)
