// Package main FM 上傳檔轉換工具指令列介面
// 讀取來源檔、收集操作者參數後交由轉換核心處理，完成後輸出產生的檔案路徑
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	converter "github.com/Saki-tw/go-tw-fm-converter"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd 建立指令樹；共用參數掛在根指令，各模式專屬參數掛在子指令
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FMCONV")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:          "fmconv",
		Short:        "家庭醫師整合照護 FM 上傳檔轉換工具",
		Long:         "將整年度看診名單與健保署下載名單轉為 208 位元組固定長度上傳檔。\n支援配對轉換、首次自選 B 類個案與錯誤名單修正三種作業。",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("long", "", "整年度看診名單 CSV 路徑")
	pf.String("short", "", "健保署下載名單 CSV 路徑")
	pf.String("plan", "", "期別（2 碼）")
	pf.String("branch", "", "健保署分區（1 碼）")
	pf.String("hosp", "", "院所代碼（10 碼）")
	pf.String("prsn", "", "醫師身分證字號（10 碼）")
	pf.String("month", "", "上傳月份 MM（01-12）")
	pf.Int("seq", 1, "檔名起始序號 NN（1-99）")
	pf.String("case-date", "", "開案日期（西元 YYYYMMDD）")
	pf.String("outdir", "output", "輸出目錄")
	pf.Bool("utf8", false, "輸出 UTF-8（預設 Big5）")
	pf.Bool("input-big5", false, "來源檔為 Big5 編碼，讀取時轉為 UTF-8")
	pf.String("log-file", "fm_converter.log", "執行紀錄檔路徑，空字串表示僅輸出至主控台")

	root.AddCommand(newMatchedCmd(v), newUnmatchedCmd(v), newRefineCmd(v))
	return root
}

func newMatchedCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matched",
		Short: "轉換健保署名單配對個案",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			return run(v, converter.ModeMatched)
		},
	}
	cmd.Flags().String("segment", "A", "記錄區段：A 開案 / B 結案")
	cmd.Flags().String("close-date", "", "結案日期（西元 YYYYMMDD，僅 B 區段）")
	cmd.Flags().String("close-reason", "", "結案原因 1-3（僅 B 區段）")
	return cmd
}

func newUnmatchedCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmatched",
		Short: "首次選取自選 B 類個案",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			return run(v, converter.ModeUnmatched)
		},
	}
	cmd.Flags().Int("limit", converter.UnmatchedChunkSize, "自選批次筆數上限")
	cmd.Flags().Bool("reset-history", false, "選取前清除送件歷史（全新重跑）")
	return cmd
}

func newRefineCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "依健保署錯誤名單修正前次批次",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			return run(v, converter.ModeRefine)
		},
	}
	cmd.Flags().String("submitted", "", "前次上傳檔路徑")
	cmd.Flags().String("rejection", "", "健保署錯誤名單 CSV 路徑")
	cmd.Flags().Int("limit", converter.UnmatchedChunkSize, "回補批次筆數上限")
	return cmd
}

// bindFlags 將子指令旗標與繼承的共用旗標一併綁入 viper，
// 使 FMCONV_* 環境變數可作為旗標預設值
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.BindPFlags(cmd.InheritedFlags())
}

// run 組裝參數與輸入後執行轉換
func run(v *viper.Viper, mode converter.Mode) error {
	logger, closeLog, err := newLogger(v.GetString("log-file"))
	if err != nil {
		return err
	}
	defer closeLog()

	p := converter.Params{
		PlanNo:       v.GetString("plan"),
		BranchCode:   v.GetString("branch"),
		HospID:       v.GetString("hosp"),
		PrsnID:       v.GetString("prsn"),
		Month:        v.GetString("month"),
		SeqStart:     v.GetInt("seq"),
		Segment:      v.GetString("segment"),
		CaseDate:     v.GetString("case-date"),
		CloseDate:    v.GetString("close-date"),
		CloseRsn:     v.GetString("close-reason"),
		OutDir:       v.GetString("outdir"),
		Big5:         !v.GetBool("utf8"),
		Limit:        v.GetInt("limit"),
		ResetHistory: v.GetBool("reset-history"),
	}
	conv, err := converter.NewConverter(mode, p, logger)
	if err != nil {
		return err
	}

	inputBig5 := v.GetBool("input-big5")
	var in converter.Inputs
	if in.Visits, err = readTableFile(v.GetString("long"), inputBig5); err != nil {
		return fmt.Errorf("看診名單: %w", err)
	}
	if in.Registered, err = readTableFile(v.GetString("short"), inputBig5); err != nil {
		return fmt.Errorf("健保署下載名單: %w", err)
	}
	if mode == converter.ModeRefine {
		if in.Prior, err = os.ReadFile(v.GetString("submitted")); err != nil {
			return fmt.Errorf("讀取前次上傳檔失敗: %w", err)
		}
		if in.Rejection, err = readTableFile(v.GetString("rejection"), inputBig5); err != nil {
			return fmt.Errorf("錯誤名單: %w", err)
		}
	}

	res, err := conv.Convert(in)
	if errors.Is(err, converter.ErrNothingToWrite) {
		logger.Warn().Msg("過濾後沒有任何有效記錄，未產生檔案")
		return nil
	}
	if err != nil {
		return err
	}

	for _, f := range res.Files {
		fmt.Println(f)
	}
	logger.Info().
		Int("written", res.Written).
		Int("skipped", res.Skipped).
		Int("deficit", res.Deficit).
		Int("files", len(res.Files)).
		Msg("轉換完成")
	return nil
}

// readTableFile 讀取來源表格檔，big5 為 true 時先轉為 UTF-8
// 編碼由操作者明確指定，核心不做偵測
func readTableFile(path string, big5 bool) (*converter.Table, error) {
	if path == "" {
		return nil, fmt.Errorf("缺少輸入檔路徑")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("開啟失敗: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if big5 {
		r = transform.NewReader(f, traditionalchinese.Big5.NewDecoder())
	}
	return converter.ReadTable(r)
}

// newLogger 建立主控台輸出，另附執行紀錄檔雙寫
func newLogger(path string) (zerolog.Logger, func(), error) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if path == "" {
		return zerolog.New(console).With().Timestamp().Logger(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("開啟執行紀錄檔失敗: %w", err)
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(console, f)).With().Timestamp().Logger()
	return logger, func() { f.Close() }, nil
}
