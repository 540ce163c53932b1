// Package utils provides small helpers shared by the HTTP and service layers.
// They carry no domain logic.
package utils

import "strconv"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s, returning def when s is empty or not an integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads raw page and page_size query values. Missing or malformed
// values take the defaults and anything out of range is clamped, so a
// page_size of 0 becomes 1 rather than the default.
func ParsePage(pageStr, sizeStr string) (page, size int) {
	page = AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(sizeStr, DefaultPageSize)
	if size < 1 {
		size = 1
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// NormalizePage fixes page numbers passed programmatically: a zero size
// means "default".
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// Offset is the number of rows before page.
func Offset(page, size int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * size
}

// TotalPages is ceil(total/size).
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
