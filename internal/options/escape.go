package options

import "strings"

const upperhex = "0123456789ABCDEF"

// EscapeComponent percent-encodes everything except ASCII letters, digits and
// -_.!~*'(). The result is safe inside a single path segment.
func EscapeComponent(s string) string {
	return escape(s, false)
}

// EscapeURI is like EscapeComponent but also leaves URI delimiters
// (;,/?:@&=+$#) intact, so an absolute URL keeps its structure.
func EscapeURI(s string) string {
	return escape(s, true)
}

func escape(s string, keepReserved bool) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unescaped(s[i], keepReserved) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unescaped(c, keepReserved) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unescaped(c byte, keepReserved bool) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	case ';', ',', '/', '?', ':', '@', '&', '=', '+', '$', '#':
		return keepReserved
	}
	return false
}
