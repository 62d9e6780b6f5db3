// Package converter 兩份名單的比對
package converter

import (
	"sort"

	"github.com/rs/zerolog"
)

// ============================================================================
// 名單比對（配對 / 未配對兩條路徑）
// ============================================================================

// MatchedCase 同時出現在看診名單與健保署下載名單的個案
type MatchedCase struct {
	Visit      VisitRecord
	Registered RegisteredCase
}

// ReconcileResult 名單比對結果
type ReconcileResult struct {
	Matched  []MatchedCase // 兩邊皆有，每一主鍵僅一筆，依身分證字號排序
	Eligible []VisitRecord // 僅出現在看診名單且通過資料品質篩選者，保留輸入順序
	Filtered int           // 未配對路徑中因資料品質不符被剔除的列數
}

// Reconcile 以正規化身分證字號比對兩份名單
// 配對路徑為內部連接：同一主鍵多筆組合時保留輸入順序第一筆，
// 保證配對模式每一主鍵至多輸出一筆；
// 未配對路徑為反向連接：僅看診名單有、下載名單無的列，
// 且須通過 eligibleCandidate 的資料品質篩選，未通過者記警告後剔除。
// 無效主鍵（哨兵值）不參與任何一側的比對。
func Reconcile(visits []VisitRecord, registered []RegisteredCase, log zerolog.Logger) ReconcileResult {
	regByKey := make(map[PatientKey]RegisteredCase, len(registered))
	for _, rc := range registered {
		if rc.Key == InvalidKey {
			continue
		}
		if _, ok := regByKey[rc.Key]; !ok {
			regByKey[rc.Key] = rc
		}
	}

	var res ReconcileResult
	matchedSeen := make(map[PatientKey]struct{})
	for _, v := range visits {
		if v.Key == InvalidKey {
			res.Filtered++
			log.Warn().Str("name", v.Name).Msg("身分證字號無效，該列不納入比對")
			continue
		}
		if rc, ok := regByKey[v.Key]; ok {
			if _, dup := matchedSeen[v.Key]; dup {
				continue
			}
			matchedSeen[v.Key] = struct{}{}
			res.Matched = append(res.Matched, MatchedCase{Visit: v, Registered: rc})
			continue
		}
		if !eligibleCandidate(v) {
			res.Filtered++
			log.Warn().Str("id", string(v.Key)).Msg("資料品質不符，不列入自選個案候選")
			continue
		}
		res.Eligible = append(res.Eligible, v)
	}

	sort.Slice(res.Matched, func(i, j int) bool {
		return res.Matched[i].Visit.Key < res.Matched[j].Visit.Key
	})
	return res
}

// eligibleCandidate 自選個案資料品質篩選：
// 電話、姓名、生日不得空白，且身分證字號第二碼可判定性別
func eligibleCandidate(v VisitRecord) bool {
	return v.Phone != "" && v.Name != "" && v.Birthday != "" && SexFromID(v.Key) != ""
}
