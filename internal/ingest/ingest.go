// Package ingest discovers local documents for submission.
package ingest

// Document is one local file ready to be staged.
type Document struct {
	Path     string
	Filename string
	Ext      string
	Size     int64
	HashHex  string
	// Duplicate is set when an earlier file in the same scan had the same content.
	Duplicate bool
	Err       string
}

// ID is a stable document id derived from the content hash, so the same file
// always maps onto the same records.
func (d Document) ID() string {
	if len(d.HashHex) < 16 {
		return d.HashHex
	}
	return "doc-" + d.HashHex[:16]
}

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}
