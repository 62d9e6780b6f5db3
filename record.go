// Package converter FM 上傳檔固定長度記錄編碼
// 依 QM 上傳格式文件：單筆 208 位元組、15 欄位、預設 Big5 編碼
package converter

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// ============================================================================
// 記錄格式定義 (208 bytes, 15 欄位)
// ============================================================================

// RecordLen 單筆記錄長度（位元組，不含 CRLF）
const RecordLen = 208

// 記錄區段代碼
const (
	SegmentOpen   = "A" // 新開案
	SegmentClosed = "B" // 結案
)

// fieldSpec 單一欄位的寬度與對齊方式
type fieldSpec struct {
	name       string
	width      int
	rightAlign bool // true: 靠右、左側補空白（數字類欄位）
}

// recordLayout 15 欄位定義，依上傳格式文件順序排列
var recordLayout = []fieldSpec{
	{"SEGMENT", 1, false},
	{"PLAN_NO", 2, true},
	{"BRANCH_CODE", 1, false},
	{"HOSP_ID", 10, true},
	{"ID", 10, false},
	{"BIRTHDAY", 8, true},
	{"NAME", 12, false},
	{"SEX", 1, false},
	{"INFORM_ADDR", 120, false},
	{"TEL", 15, false},
	{"PRSN_ID", 10, true},
	{"CASE_TYPE", 1, false},
	{"CASE_DATE", 8, true},
	{"CLOSE_DATE", 8, true},
	{"CLOSE_RSN", 1, false},
}

// ID 欄位在記錄中的位置（SEGMENT+PLAN_NO+BRANCH_CODE+HOSP_ID 之後）
const (
	idOffset = 14
	idWidth  = 10
)

// RecordFields 一筆邏輯記錄的全部欄位值（尚未編碼）
type RecordFields struct {
	Segment    string
	PlanNo     string
	BranchCode string
	HospID     string
	ID         string
	Birthday   string // 西元 YYYYMMDD
	Name       string
	Sex        string // "1"/"2"/空白
	InformAddr string
	Tel        string
	PrsnID     string
	CaseType   string // "A"/"B"/"C"
	CaseDate   string // 西元 YYYYMMDD
	CloseDate  string // 僅結案記錄
	CloseRsn   string // 僅結案記錄
}

// values 依 recordLayout 順序展開欄位值
func (f RecordFields) values() [15]string {
	return [15]string{
		f.Segment, f.PlanNo, f.BranchCode, f.HospID, f.ID,
		f.Birthday, f.Name, f.Sex, f.InformAddr, f.Tel,
		f.PrsnID, f.CaseType, f.CaseDate, f.CloseDate, f.CloseRsn,
	}
}

// ErrRecordLength 編碼結果非 208 位元組
// 屬程式內部一致性錯誤，必須中止整批轉換，不得寫出格式不符的資料
var ErrRecordLength = errors.New("記錄長度不是 208 位元組")

// ============================================================================
// 編碼器
// ============================================================================

// RecordCodec 固定長度記錄編碼器
type RecordCodec struct {
	enc encoding.Encoding // nil 表示直接輸出 UTF-8
}

// NewRecordCodec 建立編碼器；big5 為 true 時輸出 Big5（上傳格式預設）
func NewRecordCodec(big5 bool) *RecordCodec {
	c := &RecordCodec{}
	if big5 {
		c.enc = traditionalchinese.Big5
	}
	return c
}

// Encode 將欄位編碼為 208 位元組固定長度記錄
// 各欄位先轉為輸出編碼的位元組，超長截斷、不足補 ASCII 空白；
// 無法編碼的字元以替代字元取代而非中止整筆記錄。
// 非結案記錄強制清空結案日期與結案原因欄位。
func (c *RecordCodec) Encode(f RecordFields) ([]byte, error) {
	if f.Segment != SegmentClosed {
		f.CloseDate = ""
		f.CloseRsn = ""
	}

	vals := f.values()
	rec := make([]byte, 0, RecordLen)
	for i, spec := range recordLayout {
		b, err := c.encodeField(vals[i])
		if err != nil {
			return nil, fmt.Errorf("欄位 %s 編碼失敗: %w", spec.name, err)
		}
		if len(b) > spec.width {
			b = b[:spec.width]
		}
		pad := bytes.Repeat([]byte{' '}, spec.width-len(b))
		if spec.rightAlign {
			rec = append(rec, pad...)
			rec = append(rec, b...)
		} else {
			rec = append(rec, b...)
			rec = append(rec, pad...)
		}
	}

	if len(rec) != RecordLen {
		return nil, fmt.Errorf("%w: 實際 %d 位元組", ErrRecordLength, len(rec))
	}
	return rec, nil
}

// encodeField 單一欄位值轉為輸出編碼位元組
func (c *RecordCodec) encodeField(v string) ([]byte, error) {
	if c.enc == nil {
		return []byte(v), nil
	}
	b, _, err := transform.Bytes(encoding.ReplaceUnsupported(c.enc.NewEncoder()), []byte(v))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RecordID 自一筆 208 位元組記錄取出正規化後的身分證字號
// 供修正模式回讀前次上傳檔使用，僅解出主鍵欄位（ID 欄位為 ASCII，
// 與輸出編碼無關）
func RecordID(rec []byte) PatientKey {
	if len(rec) < idOffset+idWidth {
		return InvalidKey
	}
	return NormalizeID(string(rec[idOffset : idOffset+idWidth]))
}

// ============================================================================
// 衍生欄位規則
// ============================================================================

// CaseTypeOf 個案類別代碼對應：1-5、7 → A，6 → C
// 其餘（含空白、非數字、超出範圍）→ B，記錄資料品質警告但不中止
func CaseTypeOf(raw string, log zerolog.Logger) string {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		switch n {
		case 1, 2, 3, 4, 5, 7:
			return "A"
		case 6:
			return "C"
		}
	}
	log.Warn().Str("case_code", raw).Msg("個案類別代碼無法對應，改以 B 類處理")
	return "B"
}
