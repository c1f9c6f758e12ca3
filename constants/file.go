package constants

import "strings"

const (
	MimePDF      = "application/pdf"
	MimeJSON     = "application/json"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
)

// Artifact types as reported in a job manifest.
const (
	ArtifactResult = "RESULT"
	ArtifactReport = "REPORT"
)

// Size classes used to pick a minimum-content threshold.
const (
	SmallDocumentBytes  = 64 * 1024
	MediumDocumentBytes = 1024 * 1024
)

// MaxVisionMBDefault caps documents sent inline to the vision model.
const MaxVisionMBDefault = 20

// NormalizeMime lowercases a content type and drops any parameters.
func NormalizeMime(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsTextMime reports whether bytes of this type can be used as content directly.
func IsTextMime(ct string) bool {
	ct = NormalizeMime(ct)
	return strings.HasPrefix(ct, "text/")
}

// AllowedExtensions are the document types picked up from local directories.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"txt":  {},
	"md":   {},
	"json": {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

// NormalizeExt lowercases an extension and strips the leading dot.
func NormalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}
