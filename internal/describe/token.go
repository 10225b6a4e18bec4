package describe

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsupported matches ParseErrors raised for constructs the grammar does
// not define, such as nested tokens.
var ErrUnsupported = errors.New("unsupported shortcut construct")

// ParseError names the offending token. It aborts the render of one
// destination only.
type ParseError struct {
	Token       string
	Reason      string
	Unsupported bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("description: %s: %q", e.Reason, e.Token)
}

func (e *ParseError) Is(target error) bool {
	return e.Unsupported && target == ErrUnsupported
}

// segment is either literal text or one {...} token.
type segment struct {
	text string
	tok  *token
}

type token struct {
	raw        string
	key        string
	additional string
	hasAdd     bool
	modifiers  map[string]string

	only    bool // kept by a matching only= modifier
	removed bool
	value   *string
}

// plain reports a bare {key} token with no modifiers or additional text.
func (t *token) plain() bool {
	return t != nil && !t.hasAdd && len(t.modifiers) == 0
}

func (t *token) bare() string {
	if t.hasAdd {
		return t.key + ":" + t.additional
	}
	return t.key
}

var tokenRe = regexp.MustCompile(`(?s)^(?:\[([^\[\]]*)\])?(\w+)(:(.*))?$`)

// tokenize splits s into text and token segments.
func tokenize(s string) ([]segment, error) {
	var (
		segs []segment
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			segs = append(segs, segment{text: text.String()})
			text.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '}':
			return nil, &ParseError{Token: "}", Reason: "unbalanced braces"}
		case '{':
			end, nested := closing(s, i)
			if end < 0 {
				return nil, &ParseError{Token: s[i:], Reason: "unbalanced braces"}
			}
			raw := s[i : end+1]
			if nested {
				return nil, &ParseError{Token: raw, Reason: "nested shortcuts", Unsupported: true}
			}
			tok, err := parseToken(raw)
			if err != nil {
				return nil, err
			}
			flush()
			segs = append(segs, segment{tok: tok})
			i = end
		default:
			text.WriteByte(s[i])
		}
	}
	flush()
	return segs, nil
}

// closing returns the index of the brace that closes the one at start, or
// -1, and whether another token opened inside it.
func closing(s string, start int) (int, bool) {
	depth := 0
	nested := false
	for j := start; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
			if depth > 1 {
				nested = true
			}
		case '}':
			depth--
			if depth == 0 {
				return j, nested
			}
		}
	}
	return -1, nested
}

func parseToken(raw string) (*token, error) {
	inner := raw[1 : len(raw)-1]
	m := tokenRe.FindStringSubmatch(inner)
	if m == nil {
		return nil, &ParseError{Token: raw, Reason: "invalid shortcut"}
	}
	t := &token{raw: raw, key: m[2], additional: m[4], hasAdd: m[3] != ""}
	if strings.HasPrefix(inner, "[") {
		mods, err := parseModifiers(m[1])
		if err != nil {
			return nil, &ParseError{Token: raw, Reason: err.Error()}
		}
		t.modifiers = mods
	}
	return t, nil
}

func parseModifiers(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("unparsable modifier %q", part)
		}
		out[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
