package convert

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var extensionTypes = map[string]string{
	".hwp":  "application/x-hwp",
	".hwpx": "application/x-hwp",
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// ContentType picks the upload MIME type: the fixed board formats first, then
// the system extension table, then content sniffing.
func ContentType(fileName string, raw []byte) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); ext != "" && t != "" {
		return t
	}
	if len(raw) == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(raw).String()
}
