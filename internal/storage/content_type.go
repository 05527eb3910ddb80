package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

// ContentTypeNDJSON is the MIME type of newline-delimited JSON exports.
const ContentTypeNDJSON = "application/x-ndjson"

// knownTypes covers extensions the platform mime tables often lack.
var knownTypes = map[string]string{
	".jsonl":  ContentTypeNDJSON,
	".ndjson": ContentTypeNDJSON,
	".json":   "application/json",
	".csv":    "text/csv",
}

// DetectContentType determines the MIME type of an object.
//
// Detection priority:
// 1. providedType, if non-empty
// 2. the key's extension
// 3. "application/octet-stream"
func DetectContentType(providedType, key string) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := knownTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
