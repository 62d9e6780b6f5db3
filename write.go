// Package converter 批次輸出：檔名規則與分檔
package converter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ============================================================================
// 批次檔寫出
// ============================================================================

// 各作業模式的單檔筆數上限與檔名字尾
const (
	MatchedChunkSize   = 9999 // 配對名單單檔上限
	UnmatchedChunkSize = 200  // 自選/修正批次單檔上限
	MatchedSuffix      = "FM.txt"
	UnmatchedSuffix    = "FM_B.txt"
)

// WriteBatches 將編碼後的記錄分檔寫出，每筆記錄以 CRLF 結尾
// 檔名格式: {分區別}{院所代碼}{月份}{序號}{字尾}，序號自 seqStart 起每檔遞增。
// 寫出順序即傳入順序，呼叫端須先完成排序/選取。
func WriteBatches(records [][]byte, p Params, suffix string, chunkSize int, log zerolog.Logger) ([]string, error) {
	if err := os.MkdirAll(p.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("建立輸出目錄失敗: %w", err)
	}

	var paths []string
	seq := p.SeqStart
	for start := 0; start < len(records); start += chunkSize {
		end := min(start+chunkSize, len(records))
		name := fmt.Sprintf("%s%s%s%02d%s", p.BranchCode, p.HospID, p.Month, seq, suffix)
		path := filepath.Join(p.OutDir, name)

		if err := writeChunk(path, records[start:end]); err != nil {
			return nil, err
		}
		log.Info().Str("file", name).Int("rows", end-start).Msg("批次檔寫出完成")
		paths = append(paths, path)
		seq++
	}
	return paths, nil
}

// writeChunk 寫出單一批次檔
func writeChunk(path string, records [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("建立輸出檔失敗: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("寫入輸出檔失敗: %w", err)
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			f.Close()
			return fmt.Errorf("寫入輸出檔失敗: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("寫入輸出檔失敗: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("關閉輸出檔失敗: %w", err)
	}
	return nil
}
