package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want PatientKey
	}{
		{"半形原樣", "A123456789", "A123456789"},
		{"全形轉半形", "Ａ１２３４５６７８９", "A123456789"},
		{"小寫轉大寫", "a123456789", "A123456789"},
		{"前後空白", "  A123456789\t", "A123456789"},
		{"試算表引號", "'A123456789", "A123456789"},
		{"前後引號成對", "\"A123456789\"", "A123456789"},
		{"空字串", "", InvalidKey},
		{"僅空白", "   ", InvalidKey},
		{"僅引號", "'", InvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeID(tt.raw))
		})
	}
}

// 同一人不同匯出形式必須正規化為同一主鍵
func TestNormalizeIDEquivalence(t *testing.T) {
	variants := []string{
		"A123456789",
		"a123456789",
		"Ａ１２３４５６７８９",
		" A123456789 ",
		"'A123456789",
	}
	want := NormalizeID(variants[0])
	for _, v := range variants {
		assert.Equal(t, want, NormalizeID(v), "variant %q", v)
	}
}

func TestSexFromID(t *testing.T) {
	assert.Equal(t, "1", SexFromID("A123456789"))
	assert.Equal(t, "2", SexFromID("A223456789"))
	assert.Equal(t, "1", SexFromID("A823456789"))
	assert.Equal(t, "2", SexFromID("A923456789"))
	assert.Equal(t, "", SexFromID("A523456789"))
	assert.Equal(t, "", SexFromID("A"))
	assert.Equal(t, "", SexFromID(InvalidKey))
}

func TestROCToGregorian(t *testing.T) {
	tests := []struct {
		roc  string
		want string
	}{
		{"0850101", "19960101"},
		{"850101", "19960101"},
		{"1130715", "20240715"},
		{"085/01/01", "19960101"},
		{"085-01-01", "19960101"},
		{" 0850101 ", "19960101"},
	}
	for _, tt := range tests {
		got, err := ROCToGregorian(tt.roc)
		require.NoError(t, err, "roc %q", tt.roc)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"85", "", "12345", "12345678", "08a0101", "0850b01"} {
		_, err := ROCToGregorian(bad)
		assert.Error(t, err, "roc %q", bad)
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "0912345678", NormalizePhone("912345678"))
	assert.Equal(t, "0223456789", NormalizePhone("0223456789.0"))
	assert.Equal(t, "0223456789", NormalizePhone("223456789.0"))
	assert.Equal(t, "0912345678", NormalizePhone(" 0912345678 "))
	assert.Equal(t, "", NormalizePhone(""))
	assert.Equal(t, "", NormalizePhone("  "))
}
