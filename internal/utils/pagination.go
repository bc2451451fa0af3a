// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import "strconv"

const (
	// DefaultPageSize is used when no size, or a non-positive one, is given.
	DefaultPageSize = 20
	// MaxPageSize caps a single page.
	MaxPageSize = 100
)

// Page is a 1-based window over an ordered listing.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps number to at least 1 and size to [1, MaxPageSize].
// A non-positive size selects DefaultPageSize.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// ParsePage builds a Page from raw query values. Empty or malformed values
// fall back to the first page and DefaultPageSize.
func ParsePage(number, size string) Page {
	return NewPage(atoiDefault(number, 1), atoiDefault(size, DefaultPageSize))
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
