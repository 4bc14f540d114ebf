// Package id provides unique identifiers for stored media objects.
package id

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectKey creates a unique storage key under prefix.
// Format: <prefix>/<uuid><ext>
// Example: frames/7c9e6679-7425-40de-944b-e07fc1f90ae7.png
func ObjectKey(prefix, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := uuid.NewString() + ext
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// TempName creates a unique temp file name with the given extension.
func TempName(ext string) string {
	return ObjectKey("", ext)
}
