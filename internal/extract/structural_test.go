package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/internal/common"
)

func TestScanLiteralText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple Tj", `BT /F1 12 Tf 72 720 Td (Hello world) Tj ET`, "Hello world"},
		{"escaped parens", `BT (a\(b\)c) Tj ET`, "a(b)c"},
		{"nested parens", `BT (a (nested) b) Tj ET`, "a (nested) b"},
		{"octal escapes", `BT (\101\102C) Tj ET`, "ABC"},
		{"short octal", `BT (\61x) Tj ET`, "1x"},
		{"backslash escapes", `BT (tab\there) Tj ET`, "tab\there"},
		{"line continuation", "BT (abc\\\ndef) Tj ET", "abcdef"},
		{"Td breaks lines", `BT (Line one) Tj 0 -14 Td (Line two) Tj ET`, "Line one\nLine two"},
		{"T* breaks lines", `BT (A) Tj T* (B) Tj ET`, "A\nB"},
		{"quote operator", `BT (first) Tj (second) ' ET`, "first\nsecond"},
		{"double quote operator", `BT (first) Tj 1 2 (second) " ET`, "first\nsecond"},
		{"TJ kerning", `BT [(Hello) -250 (World) -50 (!)] TJ ET`, "Hello World!"},
		{"hex string", `BT <48656C6C6F> Tj ET`, "Hello"},
		{"utf16 hex string", `BT <FEFF00480069> Tj ET`, "Hi"},
		{"unprintable hex dropped", `BT <0001> Tj (ok) Tj ET`, "ok"},
		{"dictionary strings ignored", `<< /Title (Secret) >> BT (Shown) Tj ET`, "Shown"},
		{"comments ignored", "% (hidden) Tj\nBT (visible) Tj ET", "visible"},
		{"separate blocks", `BT (one) Tj ET BT (two) Tj ET`, "one\ntwo"},
		{"no operators", `just some bytes`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScanLiteralText([]byte(tt.in)))
		})
	}
}

func TestScanLiteralTextSkipsBinaryStreams(t *testing.T) {
	t.Parallel()
	binary := []byte{0x9c, 0xff, '(', 0x01, 0x02, 0xe3, 0x88, 0x90, 0xa1, 0xb2, 0x03, 0xfe}
	doc := "1 0 obj << /Filter /FlateDecode >> stream\n" + string(binary) + "\nendstream endobj\n" +
		"2 0 obj << >> stream\nBT (after) Tj ET\nendstream endobj"
	assert.Equal(t, "after", ScanLiteralText([]byte(doc)))
}

func TestScanStructuralThreshold(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 40000)
	res := ScanStructural([]byte("BT /F1 12 Tf ("+text+") Tj ET"), 100)
	assert.Equal(t, 40000, res.CharCount)
	assert.True(t, res.Sufficient)
	assert.Equal(t, text, res.Text)

	exact := ScanStructural([]byte("BT ("+strings.Repeat("b", 100)+") Tj ET"), 100)
	assert.False(t, exact.Sufficient, "a count equal to the threshold is insufficient")
	assert.Equal(t, 100, exact.CharCount)

	partial := ScanStructural([]byte("BT (Page 1) Tj ET"), 100)
	assert.False(t, partial.Sufficient)
	assert.Equal(t, "Page 1", partial.Text)
}

func TestScanPDFRecoversFromGarbage(t *testing.T) {
	t.Parallel()
	inputs := [][]byte{
		[]byte("%PDF-1.7\nnot really a pdf"),
		[]byte("%PDF-1.4\n1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF"),
		{},
	}
	for _, in := range inputs {
		res, err := ScanPDF(in, 50)
		require.Error(t, err)
		assert.False(t, res.Sufficient)
	}
}

func TestThresholds(t *testing.T) {
	t.Parallel()
	th := DefaultThresholds()
	assert.Equal(t, 50, th.For(100))
	assert.Equal(t, 100, th.For(64*1024))
	assert.Equal(t, 200, th.For(2*1024*1024))

	custom := ThresholdsFrom(common.ExtractionConfig{MinCharsMedium: 500})
	assert.Equal(t, 50, custom.Small)
	assert.Equal(t, 500, custom.Medium)
	assert.Equal(t, 200, custom.Large)
}
