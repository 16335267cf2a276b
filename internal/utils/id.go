package utils

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random server-assigned identifier.
func NewID() string {
	return uuid.NewString()
}

// UploadName builds a unique stored file name keeping the client's extension.
// ext overrides the extension taken from original when non-empty.
func UploadName(original, ext string) string {
	if ext == "" {
		ext = filepath.Ext(original)
	}
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return uuid.NewString() + ext
}
