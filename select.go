// Package converter 自選個案的彙總、排序與選取
package converter

import (
	"sort"

	"github.com/rs/zerolog"
)

// ============================================================================
// 未配對個案彙總與選取
// ============================================================================

// CandidateAggregate 未配對病患的彙總：看診次數與代表列（輸入順序首見列）
type CandidateAggregate struct {
	Key        PatientKey
	VisitCount int
	Visit      VisitRecord
}

// AggregateCandidates 依主鍵彙總符合資格的看診列
// 代表列取輸入順序第一筆，看診次數為同主鍵的列數
func AggregateCandidates(eligible []VisitRecord) []CandidateAggregate {
	index := make(map[PatientKey]int, len(eligible))
	var out []CandidateAggregate
	for _, v := range eligible {
		if i, ok := index[v.Key]; ok {
			out[i].VisitCount++
			continue
		}
		index[v.Key] = len(out)
		out = append(out, CandidateAggregate{Key: v.Key, VisitCount: 1, Visit: v})
	}
	return out
}

// rankCandidates 候選排序：看診次數多者優先，其次生日字串遞減，
// 最後以主鍵遞增收尾。後兩個鍵僅為保證穩定全序，非業務需求。
func rankCandidates(aggs []CandidateAggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].VisitCount != aggs[j].VisitCount {
			return aggs[i].VisitCount > aggs[j].VisitCount
		}
		if aggs[i].Visit.Birthday != aggs[j].Visit.Birthday {
			return aggs[i].Visit.Birthday > aggs[j].Visit.Birthday
		}
		return aggs[i].Key < aggs[j].Key
	})
}

// SelectCandidates 自彙總結果中選出至多 limit 筆未曾送件的個案
// 已在送件歷史中的主鍵一律排除；可選數不足上限時警告候選已用罄。
// 選出者的主鍵即刻併入送件歷史，之後的全新選取不會再選到同一人。
func SelectCandidates(aggs []CandidateAggregate, hist *HistoryStore, limit int, log zerolog.Logger) []CandidateAggregate {
	pool := make([]CandidateAggregate, 0, len(aggs))
	for _, a := range aggs {
		if !hist.Contains(a.Key) {
			pool = append(pool, a)
		}
	}
	rankCandidates(pool)

	if len(pool) > limit {
		pool = pool[:limit]
	} else if len(pool) < limit {
		log.Warn().Int("selected", len(pool)).Int("limit", limit).
			Msg("可選個案不足批次上限，候選名單已用罄")
	}

	keys := make([]PatientKey, 0, len(pool))
	for _, a := range pool {
		keys = append(keys, a.Key)
	}
	hist.Merge(keys)
	return pool
}
