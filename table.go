// Package converter 來源表格載入
// 外部載入器已將來源檔解碼為 UTF-8 文字，此處僅負責欄位切割與欄名對應；
// 編碼偵測與互動式引導不在轉換核心範圍內
package converter

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ============================================================================
// 表格資料結構
// ============================================================================

// Table 已解碼的表格資料，第一個非空白列為欄位名稱列
type Table struct {
	Headers []string
	Rows    [][]string
}

// ReadTable 讀取已解碼為 UTF-8 的 CSV 內容，空白列略過
func ReadTable(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	t := &Table{}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := parseCSVLine(line)
		if t.Headers == nil {
			t.Headers = fields
			continue
		}
		t.Rows = append(t.Rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("讀取表格失敗: %w", err)
	}
	if t.Headers == nil {
		return nil, fmt.Errorf("表格內容為空")
	}
	return t, nil
}

// columnIndex 依欄位別名尋找欄位位置，比對不分大小寫且允許部分符合；
// 找不到回傳 -1
func (t *Table) columnIndex(aliases ...string) int {
	for i, h := range t.Headers {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, a := range aliases {
			if strings.Contains(h, strings.ToLower(a)) {
				return i
			}
		}
	}
	return -1
}

// parseCSVLine 解析 CSV 行（處理引號包覆的欄位）
func parseCSVLine(line string) []string {
	var fields []string
	var field strings.Builder
	inQuotes := false

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	fields = append(fields, field.String())

	return fields
}

// getField 安全取得欄位值
func getField(fields []string, index int) string {
	if index >= 0 && index < len(fields) {
		return fields[index]
	}
	return ""
}

// ============================================================================
// 兩份來源名單
// ============================================================================

// VisitRecord 整年度看診名單的一列，載入後不再變動
type VisitRecord struct {
	Key       PatientKey
	Name      string
	Birthday  string // 民國年原始字串，編碼時才轉西元
	Address   string
	Phone     string // 載入時已正規化
	VisitDate string
	CaseCode  string
}

// RegisteredCase 健保署下載名單的一列
type RegisteredCase struct {
	Key      PatientKey
	CaseCode string
}

// LoadVisits 將看診名單表格轉為 VisitRecord 列表
// 身分證字號、姓名、生日、電話任一整欄缺少即為來源格式錯誤，整批中止；
// 電話於此處即正規化，後續的資格篩選、彙總與編碼都使用同一值
func LoadVisits(t *Table) ([]VisitRecord, error) {
	idIdx := t.columnIndex("身分證字號", "身分證號", "身份證", "idno", "national_id")
	nameIdx := t.columnIndex("姓名", "name")
	birthIdx := t.columnIndex("生日", "出生日期", "birth")
	phoneIdx := t.columnIndex("電話", "phone", "tel")
	addrIdx := t.columnIndex("住址", "地址", "addr")
	visitIdx := t.columnIndex("看診日期", "就診日期", "visit_date")
	caseIdx := t.columnIndex("個案類別", "case_type")

	if idIdx < 0 || nameIdx < 0 || birthIdx < 0 || phoneIdx < 0 {
		return nil, fmt.Errorf("看診名單缺少必要欄位（身分證字號/姓名/生日/電話）")
	}

	visits := make([]VisitRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		visits = append(visits, VisitRecord{
			Key:       NormalizeID(getField(row, idIdx)),
			Name:      strings.TrimSpace(getField(row, nameIdx)),
			Birthday:  strings.TrimSpace(getField(row, birthIdx)),
			Address:   strings.TrimSpace(getField(row, addrIdx)),
			Phone:     NormalizePhone(getField(row, phoneIdx)),
			VisitDate: strings.TrimSpace(getField(row, visitIdx)),
			CaseCode:  strings.TrimSpace(getField(row, caseIdx)),
		})
	}
	return visits, nil
}

// LoadRegistered 將健保署下載名單表格轉為 RegisteredCase 列表
// 僅身分證字號為必要欄位
func LoadRegistered(t *Table) ([]RegisteredCase, error) {
	idIdx := t.columnIndex("身分證號", "身分證字號", "身份證", "idno", "national_id")
	caseIdx := t.columnIndex("個案類別", "case_type")

	if idIdx < 0 {
		return nil, fmt.Errorf("健保署下載名單缺少身分證號欄位")
	}

	regs := make([]RegisteredCase, 0, len(t.Rows))
	for _, row := range t.Rows {
		regs = append(regs, RegisteredCase{
			Key:      NormalizeID(getField(row, idIdx)),
			CaseCode: strings.TrimSpace(getField(row, caseIdx)),
		})
	}
	return regs, nil
}

// LoadRejectedRows 自健保署錯誤名單取出被退件的列號（1 起算）
// 行號欄位整欄缺少為來源格式錯誤；單一列號無法解析則警告後略過
func LoadRejectedRows(t *Table, log zerolog.Logger) (map[int]struct{}, error) {
	idx := t.columnIndex("錯誤行號", "行號", "列號", "序號", "row", "line")
	if idx < 0 {
		return nil, fmt.Errorf("錯誤名單缺少行號欄位")
	}

	rejected := make(map[int]struct{})
	for _, row := range t.Rows {
		raw := strings.TrimSpace(getField(row, idx))
		raw = strings.TrimSuffix(raw, ".0") // 試算表數值化殘留
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			log.Warn().Str("row_no", raw).Msg("錯誤名單行號無法解析，略過")
			continue
		}
		rejected[n] = struct{}{}
	}
	return rejected, nil
}
