package service

import (
	"DriveVault/utils"
	"fmt"
	"path"
	"strings"
)

// ContentTypeFor guesses a MIME type from the file extension.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	case ".mp3":
		return "audio/mpeg"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// inlineDisposition lets browsers render the object instead of saving it.
func inlineDisposition(name string) string {
	return fmt.Sprintf("inline; filename=\"%s\"", utils.SanitizeHeaderFilename(name))
}
