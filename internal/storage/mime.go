package storage

import "strings"

// Extensions for the MIME types the supported providers actually serve.
var mimeExtensions = map[string]string{
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/jpg":        ".jpg",
	"image/webp":       ".webp",
	"image/gif":        ".gif",
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"audio/mpeg":       ".mp3",
	"audio/mp3":        ".mp3",
	"audio/wav":        ".wav",
	"audio/x-wav":      ".wav",
	"audio/ogg":        ".ogg",
	"audio/flac":       ".flac",
	"audio/aac":        ".aac",
	"audio/mp4":        ".m4a",
	"text/plain":       ".txt",
	"application/json": ".json",
}

// ExtensionForMIME maps a content type (possibly carrying parameters such as
// a charset) to a file extension.
func ExtensionForMIME(contentType string) (string, bool) {
	mime := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	ext, ok := mimeExtensions[mime]
	return ext, ok
}
