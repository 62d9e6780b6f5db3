// Package converter 錯誤名單修正
// 以前次上傳檔的原始位元組為準重新分批：被接受的記錄逐位元組原樣保留，
// 被退件的記錄自候選池回補
package converter

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog"
)

// ============================================================================
// 前次批次回讀與回補
// ============================================================================

// SplitBatchRecords 將前次上傳檔內容切為逐筆 208 位元組記錄
// 記錄以 CRLF 結尾，檔尾允許無結尾符；任一筆長度不符即視為檔案毀損，
// 整批中止
func SplitBatchRecords(raw []byte) ([][]byte, error) {
	var recs [][]byte
	rest := raw
	for lineNo := 1; len(rest) > 0; lineNo++ {
		var rec []byte
		if i := bytes.Index(rest, []byte("\r\n")); i >= 0 {
			rec, rest = rest[:i], rest[i+2:]
		} else {
			rec, rest = rest, nil
		}
		if len(rec) == 0 {
			continue // 檔尾空行
		}
		if len(rec) != RecordLen {
			return nil, fmt.Errorf("前次上傳檔第 %d 筆長度 %d，應為 %d", lineNo, len(rec), RecordLen)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// RefineResult 修正批次結果
type RefineResult struct {
	Accepted     [][]byte             // 未被退件的原始記錄，逐位元組原樣保留
	Replacements []CandidateAggregate // 回補的新個案，依排序取前 N 筆
	Deficit      int                  // 候選不足時短少的筆數
}

// Refine 依退件列號（1 起算）分割前次批次並回補新個案
// 被接受的記錄不重新編碼，避免重新推導造成位元組差異；
// 回補個案排除送件歷史與前次批次中出現過的所有主鍵，
// 排序規則與首次選取相同，不足額僅警告不中止。
// 回補個案的主鍵於回傳前併入送件歷史；被接受者早在前次執行即已入歷史。
func Refine(prior [][]byte, rejected map[int]struct{}, pool []CandidateAggregate, hist *HistoryStore, log zerolog.Logger) RefineResult {
	var res RefineResult

	priorKeys := make(map[PatientKey]struct{}, len(prior))
	needed := 0
	for i, rec := range prior {
		if k := RecordID(rec); k != InvalidKey {
			priorKeys[k] = struct{}{}
		}
		if _, ok := rejected[i+1]; ok {
			needed++
			continue
		}
		res.Accepted = append(res.Accepted, rec)
	}

	fresh := make([]CandidateAggregate, 0, len(pool))
	for _, a := range pool {
		if hist.Contains(a.Key) {
			continue
		}
		if _, ok := priorKeys[a.Key]; ok {
			continue
		}
		fresh = append(fresh, a)
	}
	rankCandidates(fresh)

	if len(fresh) > needed {
		fresh = fresh[:needed]
	}
	if len(fresh) < needed {
		res.Deficit = needed - len(fresh)
		log.Warn().Int("needed", needed).Int("available", len(fresh)).
			Msg("候選個案不足，回補筆數短少")
	}

	keys := make([]PatientKey, 0, len(fresh))
	for _, a := range fresh {
		keys = append(keys, a.Key)
	}
	hist.Merge(keys)

	res.Replacements = fresh
	return res
}
