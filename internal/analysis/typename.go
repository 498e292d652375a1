package analysis

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// DecodeTypeName turns an Itanium type-name string such as
// "_ZTSN7cocos2d8LuaStackE" into "cocos2d::LuaStack". It reads decimal
// length prefixes followed by that many characters and joins the pieces
// with "::". A leading N and trailing E of a nested name are accepted.
// Decoding stops at the first non-digit where a length is expected, or at a
// length running past the end; when nothing was decoded the input minus
// any "_ZTS" prefix is returned unchanged.
func DecodeTypeName(mangled string) string {
	raw := strings.TrimPrefix(mangled, "_ZTS")
	s := strings.TrimPrefix(raw, "N")

	var parts []string
	for len(s) > 0 {
		n, digits := 0, 0
		for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
			n = n*10 + int(s[digits]-'0')
			digits++
			if n > len(s) {
				break
			}
		}
		if digits == 0 || n == 0 || digits+n > len(s) {
			break
		}
		parts = append(parts, s[digits:digits+n])
		s = s[digits+n:]
	}
	if len(parts) == 0 {
		return raw
	}
	return strings.Join(parts, "::")
}

// demangleTypeName runs the full Itanium demangler over a type-name
// string. It returns "" when the demangler rejects the input.
func demangleTypeName(mangled string) string {
	sym := mangled
	if !strings.HasPrefix(sym, "_ZTS") {
		sym = "_ZTS" + sym
	}
	s, err := demangle.ToString(sym, demangle.NoClones)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(s, "typeinfo name for ")
}
