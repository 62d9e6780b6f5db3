package converter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFields() RecordFields {
	return RecordFields{
		Segment:    SegmentOpen,
		PlanNo:     "09",
		BranchCode: "1",
		HospID:     "1234567890",
		ID:         "A123456789",
		Birthday:   "19960101",
		Name:       "王小明",
		Sex:        "1",
		InformAddr: "台北市中正區重慶南路一段122號",
		Tel:        "0223456789",
		PrsnID:     "A987654321",
		CaseType:   "A",
		CaseDate:   "20250101",
	}
}

func TestEncodeLength(t *testing.T) {
	codecs := map[string]*RecordCodec{
		"big5": NewRecordCodec(true),
		"utf8": NewRecordCodec(false),
	}
	cases := map[string]RecordFields{
		"一般資料": sampleFields(),
		"全空欄位": {},
		"超長欄位": {
			Segment:    SegmentOpen,
			Name:       strings.Repeat("名", 50),
			InformAddr: strings.Repeat("台北市信義區市府路一號", 30),
			Tel:        strings.Repeat("0", 40),
		},
	}
	for encName, codec := range codecs {
		for caseName, f := range cases {
			rec, err := codec.Encode(f)
			require.NoError(t, err, "%s/%s", encName, caseName)
			assert.Len(t, rec, RecordLen, "%s/%s", encName, caseName)
		}
	}
}

func TestEncodeAlignment(t *testing.T) {
	codec := NewRecordCodec(false)
	f := sampleFields()
	f.PlanNo = "9" // 不足位時靠右補空白

	rec, err := codec.Encode(f)
	require.NoError(t, err)

	assert.Equal(t, byte('A'), rec[0], "SEGMENT")
	assert.Equal(t, " 9", string(rec[1:3]), "PLAN_NO 靠右")
	assert.Equal(t, "A123456789", string(rec[14:24]), "ID 靠左")
	assert.Equal(t, "19960101", string(rec[24:32]), "BIRTHDAY")
	assert.Equal(t, byte('1'), rec[44], "SEX")
	assert.Equal(t, "0223456789     ", string(rec[165:180]), "TEL 靠左補空白")
	assert.Equal(t, byte('A'), rec[190], "CASE_TYPE")
}

// 非結案記錄即使呼叫端給了結案欄位也必須強制清空
func TestEncodeOpenSegmentBlanksCloseFields(t *testing.T) {
	codec := NewRecordCodec(false)
	f := sampleFields()
	f.CloseDate = "20251231"
	f.CloseRsn = "1"

	rec, err := codec.Encode(f)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat(" ", 8), string(rec[199:207]), "CLOSE_DATE 應為空白")
	assert.Equal(t, byte(' '), rec[207], "CLOSE_RSN 應為空白")
}

func TestEncodeClosedSegmentKeepsCloseFields(t *testing.T) {
	codec := NewRecordCodec(false)
	f := sampleFields()
	f.Segment = SegmentClosed
	f.CloseDate = "20251231"
	f.CloseRsn = "2"

	rec, err := codec.Encode(f)
	require.NoError(t, err)
	assert.Equal(t, "20251231", string(rec[199:207]))
	assert.Equal(t, byte('2'), rec[207])
}

// Big5 下中文欄位以雙位元組計寬，截斷與補白都以位元組為準
func TestEncodeBig5Truncation(t *testing.T) {
	codec := NewRecordCodec(true)
	f := sampleFields()
	f.Name = "王小明陳大文李四五六七" // 22 bytes Big5，NAME 欄僅 12 bytes

	rec, err := codec.Encode(f)
	require.NoError(t, err)
	require.Len(t, rec, RecordLen)
	// NAME 欄位塞滿 12 bytes，無補白空白
	assert.NotContains(t, string(rec[32:44]), " ")
}

func TestRecordIDRoundTrip(t *testing.T) {
	codec := NewRecordCodec(true)
	rec, err := codec.Encode(sampleFields())
	require.NoError(t, err)
	assert.Equal(t, PatientKey("A123456789"), RecordID(rec))

	assert.Equal(t, InvalidKey, RecordID([]byte("短")))
	assert.Equal(t, InvalidKey, RecordID(bytes.Repeat([]byte{' '}, RecordLen)))
}

func TestCaseTypeOf(t *testing.T) {
	log := zerolog.Nop()
	assert.Equal(t, "A", CaseTypeOf("1", log))
	assert.Equal(t, "A", CaseTypeOf("3", log))
	assert.Equal(t, "A", CaseTypeOf("5", log))
	assert.Equal(t, "A", CaseTypeOf("7", log))
	assert.Equal(t, "A", CaseTypeOf("05", log))
	assert.Equal(t, "C", CaseTypeOf("6", log))
	assert.Equal(t, "B", CaseTypeOf("9", log))
	assert.Equal(t, "B", CaseTypeOf("0", log))
	assert.Equal(t, "B", CaseTypeOf("", log))
	assert.Equal(t, "B", CaseTypeOf("x", log))
}
