package signing

import (
	"sort"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// Canonicalize renders params as key=value pairs joined by '&'. Keys and
// values are percent-encoded with URI-component rules, pairs are ordered by
// the encoded key, and encoded spaces in values are written as '+'.
// The output is what the gateway signs, so it must stay byte-stable.
func Canonicalize(params Params) string {
	type pair struct{ key, value string }

	pairs := make([]pair, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, pair{
			key:   EscapeComponent(k),
			value: strings.ReplaceAll(EscapeComponent(v), "%20", "+"),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String()
}

// EscapeComponent percent-encodes every byte outside the URI-component
// unreserved set (A-Z a-z 0-9 - _ . ! ~ * ' ( )). Multi-byte UTF-8 is encoded
// byte by byte with uppercase hex.
func EscapeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !isUnreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	buf := make([]byte, 0, len(s)+2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '%', upperhex[c>>4], upperhex[c&15])
	}
	return string(buf)
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
