// Package converter 自選個案送件歷史
// 唯一跨次執行的持久狀態：凡曾被選入自選批次的主鍵都記錄於輸出目錄的
// 歷史檔，未經明確重設不得再次被選出
package converter

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// HistoryFileName 送件歷史檔名，與輸出檔同目錄
const HistoryFileName = "fm_submitted_ids.txt"

// HistoryStore 已送件身分證字號集合
// 單次執行僅有一個寫入者；載入、併入、持久化為明確的三段契約
type HistoryStore struct {
	path string
	keys map[PatientKey]struct{}
}

// OpenHistory 載入輸出目錄內的送件歷史，檔案不存在視為空集合
func OpenHistory(dir string) (*HistoryStore, error) {
	h := &HistoryStore{
		path: filepath.Join(dir, HistoryFileName),
		keys: make(map[PatientKey]struct{}),
	}

	f, err := os.Open(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("讀取送件歷史失敗: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if k := NormalizeID(scanner.Text()); k != InvalidKey {
			h.keys[k] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("讀取送件歷史失敗: %w", err)
	}
	return h, nil
}

// Contains 主鍵是否已在送件歷史中
func (h *HistoryStore) Contains(k PatientKey) bool {
	_, ok := h.keys[k]
	return ok
}

// Len 歷史筆數
func (h *HistoryStore) Len() int {
	return len(h.keys)
}

// Merge 將主鍵併入歷史（僅增不減）
func (h *HistoryStore) Merge(keys []PatientKey) {
	for _, k := range keys {
		if k != InvalidKey {
			h.keys[k] = struct{}{}
		}
	}
}

// Reset 清空歷史，僅供全新自選批次於操作者明確要求時使用
func (h *HistoryStore) Reset() {
	h.keys = make(map[PatientKey]struct{})
}

// Persist 以每行一筆、排序後的格式原子性覆寫歷史檔
// 先寫入暫存檔再改名，中途失敗不會留下半寫狀態
func (h *HistoryStore) Persist() error {
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("建立輸出目錄失敗: %w", err)
	}

	keys := make([]string, 0, len(h.keys))
	for k := range h.keys {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	tmp, err := os.CreateTemp(dir, HistoryFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("寫入送件歷史失敗: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		if _, err := w.WriteString(k + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("寫入送件歷史失敗: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("寫入送件歷史失敗: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("寫入送件歷史失敗: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("覆寫送件歷史失敗: %w", err)
	}
	return nil
}
