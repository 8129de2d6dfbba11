// internal/server/response.go
//
// 本檔負責統一 HTTP 回應格式。
//   - 成功回應使用 JSON 編碼（Content-Type: application/json）。
//   - 錯誤回應統一為 {"error": "...", "errors": [...]}，狀態碼由錯誤分類決定。
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"bankapp/internal/bank"
)

// writeJSON 統一輸出成功回應。
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf 將領域錯誤分類對應到 HTTP 狀態碼。
func statusOf(err error) int {
	switch bank.KindOf(err) {
	case bank.KindValidation:
		return http.StatusBadRequest
	case bank.KindNotFound:
		return http.StatusNotFound
	case bank.KindInsufficientFunds, bank.KindDuplicate:
		return http.StatusConflict
	case bank.KindAuth:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

// writeErr 依錯誤分類輸出錯誤回應；errors.Join 的多個錯誤會逐一列在 errors 欄位。
// 5xx 會寫入 log，回應內容不透露儲存層細節。
func writeErr(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		log.Printf("server: %v", err)
		writeMessage(w, code, "internal error")
		return
	}
	body := errorBody{Error: err.Error()}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			body.Errors = append(body.Errors, e.Error())
		}
	}
	writeJSON(w, code, body)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}
