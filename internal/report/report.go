// internal/report/report.go
//
// Package report 為唯讀的查詢與報表層：
// 跨子帳戶的總餘額、交易紀錄篩選，以及 CSV 匯出。
// 本層只處理已讀出的資料，不存取任何儲存後端。
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankapp/internal/storage"
)

const (
	// AllTypes 為「不篩選類型」的哨兵值。
	AllTypes = "All"

	// CSVHeader 為匯出檔的標題列。
	CSVHeader = "Date,Type,Amount,Details,Balance After"
	// ContentType 與 Filename 供 HTTP 層設定下載標頭。
	ContentType = "text/csv"
	Filename    = "transactions.csv"

	// TimestampLayout 為匯出與顯示用的時間格式。
	TimestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// TotalBalance 回傳主帳戶餘額加上所有子帳戶餘額。
func TotalBalance(main decimal.Decimal, accounts []storage.SubAccount) decimal.Decimal {
	total := main
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total
}

// Filter 描述交易篩選條件；零值欄位代表不篩選。
// Start 與 End 皆為包含邊界。
type Filter struct {
	Type  string
	Start time.Time
	End   time.Time
}

// FilterTransactions 回傳符合所有條件的子序列，保持原順序。
func FilterTransactions(entries []storage.Entry, f Filter) []storage.Entry {
	out := make([]storage.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Type != "" && f.Type != AllTypes && string(e.Type) != f.Type {
			continue
		}
		if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && e.Timestamp.After(f.End) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ParseDateBounds 將表單上的 YYYY-MM-DD 日期轉為包含邊界的時間範圍（UTC）。
// end 涵蓋當天整日；空字串代表不設該邊界。
func ParseDateBounds(start, end string) (time.Time, time.Time, error) {
	var from, to time.Time
	if s := strings.TrimSpace(start); s != "" {
		d, err := time.ParseInLocation(dateLayout, s, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start must be YYYY-MM-DD: %w", err)
		}
		from = d
	}
	if s := strings.TrimSpace(end); s != "" {
		d, err := time.ParseInLocation(dateLayout, s, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end must be YYYY-MM-DD: %w", err)
		}
		to = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return from, to, nil
}

// ExportCSV 依紀錄順序寫出標題列與每筆交易一列。
// 欄位直接以逗號串接、不加引號：Details 含逗號時欄位會錯位（已知限制）。
func ExportCSV(w io.Writer, entries []storage.Entry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader + "\n"); err != nil {
		return err
	}
	for _, e := range entries {
		row := strings.Join([]string{
			e.Timestamp.Format(TimestampLayout),
			string(e.Type),
			e.Amount.String(),
			e.Details,
			e.BalanceAfter.String(),
		}, ",")
		if _, err := bw.WriteString(row + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
