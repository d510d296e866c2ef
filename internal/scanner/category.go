package scanner

import (
	"path/filepath"
	"strings"
)

var categoryByExtension = map[string]Category{
	"jpg":  CategoryImage,
	"jpeg": CategoryImage,
	"png":  CategoryImage,
	"gif":  CategoryImage,
	"heic": CategoryImage,
	"heif": CategoryImage,
	"webp": CategoryImage,

	"pdf":  CategoryDocument,
	"doc":  CategoryDocument,
	"docx": CategoryDocument,
	"txt":  CategoryDocument,
	"rtf":  CategoryDocument,

	"csv":     CategorySpreadsheet,
	"xlsx":    CategorySpreadsheet,
	"xls":     CategorySpreadsheet,
	"numbers": CategorySpreadsheet,
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// CategoryFor maps a lower-case extension to its category.
func CategoryFor(ext string) Category {
	if c, ok := categoryByExtension[ext]; ok {
		return c
	}
	return CategoryUnknown
}

// IsHidden reports whether a file or directory name is hidden (dot-prefixed).
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
