// Package converter 家庭醫師整合照護 FM 上傳檔轉換核心
// 將整年度看診名單與健保署下載名單轉為 208 位元組固定長度上傳格式
package converter

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// ============================================================================
// 身分證字號正規化與衍生欄位
// ============================================================================

// PatientKey 正規化後的身分證字號，為兩份名單比對的主鍵
type PatientKey string

// InvalidKey 無效身分證字號的哨兵值，永遠不參與比對
const InvalidKey PatientKey = ""

// NormalizeID 正規化身分證字號：去除前後空白、全形英數轉半形、
// 剝除試算表匯出殘留的單一前後引號、英文字母轉大寫。
// 空值或清理後為空者回傳 InvalidKey。
// 此函式為純函式，相同輸入必得相同結果，跨次執行的集合比對依賴此性質。
func NormalizeID(raw string) PatientKey {
	s := strings.TrimSpace(raw)
	s = width.Narrow.String(s)
	s = strings.TrimSpace(s)
	if len(s) > 0 && (s[0] == '\'' || s[0] == '"') {
		s = s[1:]
	}
	if len(s) > 0 && (s[len(s)-1] == '\'' || s[len(s)-1] == '"') {
		s = s[:len(s)-1]
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return InvalidKey
	}
	return PatientKey(s)
}

// SexFromID 由身分證字號第二碼推導性別欄位值
// 1/8 為男性、2/9 為女性（8/9 為新式外來人口統一證號），其餘回傳空字串
func SexFromID(key PatientKey) string {
	if len(key) < 2 {
		return ""
	}
	switch key[1] {
	case '1', '8':
		return "1"
	case '2', '9':
		return "2"
	}
	return ""
}

// ============================================================================
// 日期與電話欄位清理
// ============================================================================

// ROCToGregorian 民國年日期 (YYMMDD 或 YYYMMDD，可含 / 或 - 分隔) 轉西元 YYYYMMDD
// 去除分隔後長度須為 6 或 7 碼，開頭 2-3 碼為民國年，加 1911 即西元年；
// 其餘長度或非數字內容視為該列的格式錯誤
func ROCToGregorian(roc string) (string, error) {
	s := strings.NewReplacer("/", "", "-", "").Replace(strings.TrimSpace(roc))
	if len(s) != 6 && len(s) != 7 {
		return "", fmt.Errorf("民國日期格式錯誤: %q", roc)
	}
	year, err := strconv.Atoi(s[:len(s)-4])
	if err != nil {
		return "", fmt.Errorf("民國日期年份無法解析: %q", roc)
	}
	md := s[len(s)-4:]
	if _, err := strconv.Atoi(md); err != nil {
		return "", fmt.Errorf("民國日期月日無法解析: %q", roc)
	}
	return fmt.Sprintf("%04d%s", year+1911, md), nil
}

// NormalizePhone 清理電話欄位：去除試算表數值化殘留的 ".0" 結尾，
// 數字串開頭缺少區碼/手機的 "0" 時補回
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".0")
	if s != "" && !strings.HasPrefix(s, "0") {
		s = "0" + s
	}
	return s
}
