package server

import (
	"path"
	"strings"
)

// extensionMIME maps the file extensions this service hosts to their MIME
// types. Anything else is served as a generic binary.
var extensionMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// allowedContentTypes is the upload allow-list for direct uploads.
var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"image/avif":      true,
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
}

// mimeTypeForName resolves a MIME type from the file name's extension.
func mimeTypeForName(fileName string) string {
	if mt, ok := extensionMIME[strings.ToLower(path.Ext(fileName))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// fileKind classifies a MIME type as "image" or "video" for upload records.
func fileKind(mimeType string) string {
	if strings.HasPrefix(mimeType, "video/") {
		return "video"
	}
	return "image"
}
