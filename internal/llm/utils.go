package llm

import (
	"encoding/base64"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// DataURL encodes data as a base64 data URL.
func DataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DetectMime picks a MIME type for an attachment: the declared type, then the file
// extension, then content sniffing.
func DetectMime(declared, filename string, data []byte) string {
	if mt := constants.NormalizeMime(declared); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return constants.NormalizeMime(mt)
		}
	}
	return constants.NormalizeMime(http.DetectContentType(data))
}

// IsImage reports whether a MIME type is sent as an image part rather than a file part.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(constants.NormalizeMime(mimeType), "image/")
}
