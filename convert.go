// Package converter 轉換流程調度
// 三種作業模式：配對轉換、首次自選、錯誤名單修正
package converter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// 作業模式與共用參數
// ============================================================================

// Mode 轉換作業模式
type Mode string

const (
	ModeMatched   Mode = "matched"   // 轉換健保署名單配對個案
	ModeUnmatched Mode = "unmatched" // 首次選取自選 B 類個案
	ModeRefine    Mode = "refine"    // 依錯誤名單修正前次批次
)

// Params 整批共用的作業參數，由操作者提供
type Params struct {
	PlanNo       string // 期別（2 碼，自動補零）
	BranchCode   string // 健保署分區（1 碼）
	HospID       string // 院所代碼（10 碼，自動補零）
	PrsnID       string // 醫師身分證字號（10 碼）
	Month        string // 上傳月份 MM
	SeqStart     int    // 檔名起始序號 NN（1-99）
	Segment      string // A 開案 / B 結案（僅配對模式可為 B）
	CaseDate     string // 開案日期，西元 YYYYMMDD
	CloseDate    string // 結案日期（Segment B 專用）
	CloseRsn     string // 結案原因 1-3（Segment B 專用）
	OutDir       string // 輸出目錄，送件歷史檔亦存放於此
	Big5         bool   // 輸出 Big5（上傳格式預設）
	Limit        int    // 自選批次筆數上限，預設 200
	ResetHistory bool   // 全新自選批次前清除送件歷史（僅 unmatched 模式有效）
}

// Validate 驗證並整理作業參數（補零、範圍檢查）
// 參數錯誤屬設定層級錯誤，於讀取任何來源資料前即中止，不產生部分輸出
func (p *Params) Validate(mode Mode) error {
	p.PlanNo = zeroFill(strings.TrimSpace(p.PlanNo), 2)
	p.BranchCode = strings.TrimSpace(p.BranchCode)
	p.HospID = zeroFill(strings.TrimSpace(p.HospID), 10)
	p.PrsnID = zeroFill(strings.ToUpper(strings.TrimSpace(p.PrsnID)), 10)
	p.Month = zeroFill(strings.TrimSpace(p.Month), 2)
	p.CaseDate = strings.TrimSpace(p.CaseDate)
	p.CloseDate = strings.TrimSpace(p.CloseDate)
	p.CloseRsn = strings.TrimSpace(p.CloseRsn)

	if p.PlanNo == "" || len(p.PlanNo) > 2 {
		return fmt.Errorf("期別須為 1-2 碼: %q", p.PlanNo)
	}
	if len(p.BranchCode) != 1 {
		return fmt.Errorf("健保署分區須為 1 碼: %q", p.BranchCode)
	}
	if len(p.HospID) != 10 {
		return fmt.Errorf("院所代碼須為 10 碼: %q", p.HospID)
	}
	if len(p.PrsnID) != 10 {
		return fmt.Errorf("醫師身分證字號須為 10 碼: %q", p.PrsnID)
	}
	if m, err := strconv.Atoi(p.Month); err != nil || m < 1 || m > 12 {
		return fmt.Errorf("上傳月份須為 01-12: %q", p.Month)
	}
	if p.SeqStart == 0 {
		p.SeqStart = 1
	}
	if p.SeqStart < 1 || p.SeqStart > 99 {
		return fmt.Errorf("起始序號須為 1-99: %d", p.SeqStart)
	}
	if !isGregorianDate(p.CaseDate) {
		return fmt.Errorf("開案日期須為西元 YYYYMMDD: %q", p.CaseDate)
	}
	if p.Limit == 0 {
		p.Limit = UnmatchedChunkSize
	}
	if p.Limit < 1 {
		return fmt.Errorf("自選批次上限須為正數: %d", p.Limit)
	}
	if p.OutDir == "" {
		p.OutDir = "output"
	}

	if mode == ModeMatched {
		if p.Segment == "" {
			p.Segment = SegmentOpen
		}
		if p.Segment != SegmentOpen && p.Segment != SegmentClosed {
			return fmt.Errorf("記錄區段須為 A 或 B: %q", p.Segment)
		}
		if p.Segment == SegmentClosed {
			if !isGregorianDate(p.CloseDate) {
				return fmt.Errorf("結案日期須為西元 YYYYMMDD: %q", p.CloseDate)
			}
			if p.CloseRsn != "1" && p.CloseRsn != "2" && p.CloseRsn != "3" {
				return fmt.Errorf("結案原因須為 1-3: %q", p.CloseRsn)
			}
		}
	} else {
		// 自選與修正批次一律為新開案
		p.Segment = SegmentOpen
		p.CloseDate, p.CloseRsn = "", ""
	}
	return nil
}

// zeroFill 左側補零至指定寬度，過寬者原樣保留交由長度檢查攔下
func zeroFill(s string, w int) string {
	if s == "" || len(s) >= w {
		return s
	}
	return strings.Repeat("0", w-len(s)) + s
}

// isGregorianDate 是否為合法西元 YYYYMMDD 日期
func isGregorianDate(s string) bool {
	_, err := time.Parse("20060102", s)
	return err == nil
}

// ============================================================================
// 轉換結果
// ============================================================================

// RowError 單列資料錯誤，僅影響該列
type RowError struct {
	ID     string
	Reason string
}

// ConvertResult 一次轉換執行的結果
type ConvertResult struct {
	Files     []string   // 寫出的檔案路徑
	Written   int        // 寫出筆數
	Skipped   int        // 因資料錯誤略過的列數
	Deficit   int        // 修正模式候選不足短少的筆數
	RowErrors []RowError // 略過原因明細
}

// ErrNothingToWrite 過濾後無任何有效記錄
// 屬可辨識的「無資料」結果，呼叫端應視為無動作而非產出成功
var ErrNothingToWrite = errors.New("沒有可寫出的有效記錄")

// ============================================================================
// 轉換器
// ============================================================================

// Inputs 外部載入器提供的全部輸入（均為已解碼資料）
type Inputs struct {
	Visits     *Table // 整年度看診名單
	Registered *Table // 健保署下載名單
	Prior      []byte // 前次上傳檔原始位元組（修正模式）
	Rejection  *Table // 健保署錯誤名單（修正模式）
}

// Converter FM 上傳檔轉換器，單次執行、單執行緒
type Converter struct {
	mode   Mode
	params Params
	codec  *RecordCodec
	log    zerolog.Logger
}

// NewConverter 建立轉換器；作業參數驗證失敗即回傳錯誤
func NewConverter(mode Mode, p Params, log zerolog.Logger) (*Converter, error) {
	if err := p.Validate(mode); err != nil {
		return nil, err
	}
	return &Converter{
		mode:   mode,
		params: p,
		codec:  NewRecordCodec(p.Big5),
		log:    log,
	}, nil
}

// Convert 依作業模式執行轉換，回傳寫出的檔案清單與統計
func (c *Converter) Convert(in Inputs) (*ConvertResult, error) {
	switch c.mode {
	case ModeMatched:
		return c.convertMatched(in)
	case ModeUnmatched:
		return c.convertUnmatched(in)
	case ModeRefine:
		return c.convertRefine(in)
	default:
		return nil, fmt.Errorf("不支援的作業模式: %s", c.mode)
	}
}

// convertMatched 配對模式：兩份名單內部連接後逐筆編碼
// 個案類別以下載名單代碼為準，空白時退回看診名單代碼
func (c *Converter) convertMatched(in Inputs) (*ConvertResult, error) {
	visits, registered, err := c.loadSources(in)
	if err != nil {
		return nil, err
	}
	recon := Reconcile(visits, registered, c.log)

	res := &ConvertResult{}
	records := make([][]byte, 0, len(recon.Matched))
	for _, m := range recon.Matched {
		code := m.Registered.CaseCode
		if code == "" {
			code = m.Visit.CaseCode
		}
		fields, err := c.buildFields(m.Visit, CaseTypeOf(code, c.log))
		if err != nil {
			c.skipRow(res, m.Visit, err)
			continue
		}
		encoded, err := c.codec.Encode(fields)
		if err != nil {
			return nil, err // 長度/編碼一致性錯誤，整批中止
		}
		records = append(records, encoded)
	}

	if len(records) == 0 {
		return res, ErrNothingToWrite
	}
	paths, err := WriteBatches(records, c.params, MatchedSuffix, MatchedChunkSize, c.log)
	if err != nil {
		return nil, err
	}
	res.Files, res.Written = paths, len(records)
	return res, nil
}

// convertUnmatched 首次自選模式：反向連接 → 彙總 → 依歷史選取
// 自選個案定義上即為 B 類，個案類別不經代碼對應。
// 送件歷史僅於操作者明確要求時重設；選取完成後先持久化歷史再寫批次檔。
func (c *Converter) convertUnmatched(in Inputs) (*ConvertResult, error) {
	visits, registered, err := c.loadSources(in)
	if err != nil {
		return nil, err
	}
	recon := Reconcile(visits, registered, c.log)

	hist, err := OpenHistory(c.params.OutDir)
	if err != nil {
		return nil, err
	}
	if c.params.ResetHistory {
		c.log.Info().Int("cleared", hist.Len()).Msg("依操作者要求重設送件歷史")
		hist.Reset()
	}

	aggs := AggregateCandidates(recon.Eligible)
	selected := SelectCandidates(aggs, hist, c.params.Limit, c.log)

	res := &ConvertResult{}
	records := make([][]byte, 0, len(selected))
	for _, cand := range selected {
		fields, err := c.buildFields(cand.Visit, "B")
		if err != nil {
			c.skipRow(res, cand.Visit, err)
			continue
		}
		encoded, err := c.codec.Encode(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, encoded)
	}

	if len(records) == 0 {
		return res, ErrNothingToWrite
	}
	if err := hist.Persist(); err != nil {
		return nil, err
	}
	paths, err := WriteBatches(records, c.params, UnmatchedSuffix, UnmatchedChunkSize, c.log)
	if err != nil {
		return nil, err
	}
	res.Files, res.Written = paths, len(records)
	return res, nil
}

// convertRefine 修正模式：回讀前次批次，被接受者原樣保留，退件者回補
// 送件歷史只增不減，重設旗標在此模式一律忽略
func (c *Converter) convertRefine(in Inputs) (*ConvertResult, error) {
	if len(in.Prior) == 0 {
		return nil, fmt.Errorf("修正模式需要前次上傳檔")
	}
	if in.Rejection == nil {
		return nil, fmt.Errorf("修正模式需要健保署錯誤名單")
	}

	visits, registered, err := c.loadSources(in)
	if err != nil {
		return nil, err
	}
	recon := Reconcile(visits, registered, c.log)

	prior, err := SplitBatchRecords(in.Prior)
	if err != nil {
		return nil, err
	}
	rejected, err := LoadRejectedRows(in.Rejection, c.log)
	if err != nil {
		return nil, err
	}

	hist, err := OpenHistory(c.params.OutDir)
	if err != nil {
		return nil, err
	}
	if c.params.ResetHistory {
		c.log.Warn().Msg("修正模式不允許重設送件歷史，旗標忽略")
	}

	pool := AggregateCandidates(recon.Eligible)
	ref := Refine(prior, rejected, pool, hist, c.log)

	res := &ConvertResult{Deficit: ref.Deficit}
	records := make([][]byte, 0, len(ref.Accepted)+len(ref.Replacements))
	records = append(records, ref.Accepted...)
	for _, cand := range ref.Replacements {
		fields, err := c.buildFields(cand.Visit, "B")
		if err != nil {
			c.skipRow(res, cand.Visit, err)
			continue
		}
		encoded, err := c.codec.Encode(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, encoded)
	}

	if len(records) == 0 {
		return res, ErrNothingToWrite
	}
	if err := hist.Persist(); err != nil {
		return nil, err
	}
	paths, err := WriteBatches(records, c.params, UnmatchedSuffix, UnmatchedChunkSize, c.log)
	if err != nil {
		return nil, err
	}
	res.Files, res.Written = paths, len(records)
	return res, nil
}

// ============================================================================
// 共用輔助
// ============================================================================

// loadSources 載入兩份來源名單，整欄缺失的結構錯誤在此即中止
func (c *Converter) loadSources(in Inputs) ([]VisitRecord, []RegisteredCase, error) {
	if in.Visits == nil || in.Registered == nil {
		return nil, nil, fmt.Errorf("缺少看診名單或健保署下載名單")
	}
	visits, err := LoadVisits(in.Visits)
	if err != nil {
		return nil, nil, err
	}
	registered, err := LoadRegistered(in.Registered)
	if err != nil {
		return nil, nil, err
	}
	return visits, registered, nil
}

// buildFields 由看診列與共用參數組出一筆記錄欄位
// 生日轉換失敗回傳錯誤，由呼叫端以單列錯誤處理；
// 性別無法判定僅清空欄位並警告，不中止該筆記錄
func (c *Converter) buildFields(v VisitRecord, caseType string) (RecordFields, error) {
	birthday, err := ROCToGregorian(v.Birthday)
	if err != nil {
		return RecordFields{}, err
	}
	sex := SexFromID(v.Key)
	if sex == "" {
		c.log.Warn().Str("id", string(v.Key)).Msg("身分證字號第二碼無法判定性別，欄位留空")
	}

	p := c.params
	return RecordFields{
		Segment:    p.Segment,
		PlanNo:     p.PlanNo,
		BranchCode: p.BranchCode,
		HospID:     p.HospID,
		ID:         string(v.Key),
		Birthday:   birthday,
		Name:       v.Name,
		Sex:        sex,
		InformAddr: v.Address,
		Tel:        v.Phone,
		PrsnID:     p.PrsnID,
		CaseType:   caseType,
		CaseDate:   p.CaseDate,
		CloseDate:  p.CloseDate,
		CloseRsn:   p.CloseRsn,
	}, nil
}

// skipRow 記錄單列資料錯誤並略過該列，不影響整批
func (c *Converter) skipRow(res *ConvertResult, v VisitRecord, err error) {
	c.log.Warn().Str("id", string(v.Key)).Err(err).Msg("資料列轉換失敗，略過")
	res.Skipped++
	res.RowErrors = append(res.RowErrors, RowError{ID: string(v.Key), Reason: err.Error()})
}
