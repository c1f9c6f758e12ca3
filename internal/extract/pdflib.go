package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var pdfMagic = []byte("%PDF-")

// looksLikePDF checks the header within the first KiB, where readers tolerate leading junk.
func looksLikePDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, pdfMagic)
}

// ScanPDF parses the document with a full PDF reader, which also decodes compressed
// content streams. Parser panics on malformed input come back as errors.
func ScanPDF(data []byte, threshold int) (res StructuralResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = newStructuralResult("", threshold)
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return newStructuralResult("", threshold), fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return newStructuralResult(b.String(), threshold), fmt.Errorf("page %d: %w", i, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return newStructuralResult(b.String(), threshold), nil
}
