package converter

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeBatch 產生 n 筆測試記錄與對應的上傳檔位元組內容
func encodeBatch(t *testing.T, ids []string) ([][]byte, []byte) {
	t.Helper()
	codec := NewRecordCodec(true)

	var recs [][]byte
	var file bytes.Buffer
	for _, id := range ids {
		f := sampleFields()
		f.ID = id
		rec, err := codec.Encode(f)
		require.NoError(t, err)
		recs = append(recs, rec)
		file.Write(rec)
		file.WriteString("\r\n")
	}
	return recs, file.Bytes()
}

func TestSplitBatchRecords(t *testing.T) {
	want, raw := encodeBatch(t, []string{"A123456789", "B123456789", "C123456789"})

	got, err := SplitBatchRecords(raw)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range want {
		assert.Equal(t, want[i], got[i], "第 %d 筆須逐位元組一致", i+1)
	}
}

func TestSplitBatchRecordsNoTrailingNewline(t *testing.T) {
	_, raw := encodeBatch(t, []string{"A123456789"})
	raw = bytes.TrimSuffix(raw, []byte("\r\n"))

	got, err := SplitBatchRecords(raw)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSplitBatchRecordsBadLength(t *testing.T) {
	_, err := SplitBatchRecords([]byte("太短的記錄\r\n"))
	assert.Error(t, err)
}

// 前批 5 筆、退件 {2,4}、候選池 3 筆全新 →
// 通過 3 筆逐位元組原樣 + 回補 2 筆，歷史恰增加 2 筆
func TestRefineReplacesRejectedRows(t *testing.T) {
	priorIDs := []string{"A123456781", "A123456782", "A123456783", "A123456784", "A123456785"}
	priorRecs, raw := encodeBatch(t, priorIDs)

	prior, err := SplitBatchRecords(raw)
	require.NoError(t, err)

	hist := newHistory(t)
	for _, id := range priorIDs {
		hist.Merge([]PatientKey{PatientKey(id)}) // 前次執行已入歷史
	}
	before := hist.Len()

	pool := []CandidateAggregate{
		agg("B123456781", "0700101", 2),
		agg("B123456782", "0700101", 1),
		agg("B123456783", "0700101", 3),
	}
	rejected := map[int]struct{}{2: {}, 4: {}}

	res := Refine(prior, rejected, pool, hist, zerolog.Nop())

	require.Len(t, res.Accepted, 3)
	assert.Equal(t, priorRecs[0], res.Accepted[0])
	assert.Equal(t, priorRecs[2], res.Accepted[1])
	assert.Equal(t, priorRecs[4], res.Accepted[2])

	require.Len(t, res.Replacements, 2)
	assert.Equal(t, PatientKey("B123456783"), res.Replacements[0].Key, "回補依排序取前 N")
	assert.Equal(t, PatientKey("B123456781"), res.Replacements[1].Key)
	assert.Zero(t, res.Deficit)

	assert.Equal(t, before+2, hist.Len(), "歷史恰增加回補筆數")
}

// 候選不足時盡量回補並回報短少，不得視為錯誤
func TestRefineDeficit(t *testing.T) {
	_, raw := encodeBatch(t, []string{"A123456781", "A123456782"})
	prior, err := SplitBatchRecords(raw)
	require.NoError(t, err)

	hist := newHistory(t)
	pool := []CandidateAggregate{agg("B123456781", "0700101", 1)}
	rejected := map[int]struct{}{1: {}, 2: {}}

	res := Refine(prior, rejected, pool, hist, zerolog.Nop())

	assert.Empty(t, res.Accepted)
	assert.Len(t, res.Replacements, 1)
	assert.Equal(t, 1, res.Deficit)
}

// 回補不得選入歷史或前次批次中出現過的主鍵
func TestRefineExcludesHistoryAndPriorKeys(t *testing.T) {
	_, raw := encodeBatch(t, []string{"A123456781", "A123456782"})
	prior, err := SplitBatchRecords(raw)
	require.NoError(t, err)

	hist := newHistory(t)
	hist.Merge([]PatientKey{"B123456781"})

	pool := []CandidateAggregate{
		agg("B123456781", "0700101", 9), // 已在歷史
		agg("A123456782", "0700101", 9), // 在前次批次（即使不在歷史）
		agg("C123456781", "0700101", 1),
	}
	rejected := map[int]struct{}{1: {}}

	res := Refine(prior, rejected, pool, hist, zerolog.Nop())

	require.Len(t, res.Replacements, 1)
	assert.Equal(t, PatientKey("C123456781"), res.Replacements[0].Key)
}
