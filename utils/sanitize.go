package utils

import "strings"

// SanitizeHeaderFilename removes characters that can break a
// Content-Disposition header.
func SanitizeHeaderFilename(name string) string {
	clean := strings.TrimSpace(name)
	clean = strings.NewReplacer("\r", "", "\n", "", "\"", "", "\\", "").Replace(clean)
	if clean == "" {
		return "download"
	}
	return clean
}
