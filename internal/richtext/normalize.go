// Package richtext converts description text to a canonical HTML fragment
// and renders that fragment in the markup each destination expects.
package richtext

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

var allowed = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Div: true, atom.Span: true,
	atom.A: true, atom.B: true, atom.Strong: true, atom.I: true, atom.Em: true,
	atom.U: true, atom.S: true, atom.Strike: true, atom.Del: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Blockquote: true,
	atom.Code: true, atom.Pre: true, atom.Hr: true,
}

var dropWithContent = map[atom.Atom]bool{atom.Script: true, atom.Style: true}

var layout = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Div: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.Blockquote: true, atom.Pre: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// HasLayout reports whether s carries its own line structure through block
// tags. Inline markup alone does not count.
func HasLayout(s string) bool {
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			if layout[atom.Lookup(name)] {
				return true
			}
		}
	}
}

// Normalize returns s as an NFC HTML fragment restricted to a small tag set.
// Without block tags newlines become <br>; with them newlines are source
// formatting and collapse to a space.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	plain := !HasLayout(s)

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				b.WriteString(html.EscapeString(string(z.Raw())))
			}
			break
		}
		tok := z.Token()
		switch tt {
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := html.EscapeString(tok.Data)
			if plain {
				text = strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", "<br>")
			} else {
				text = strings.NewReplacer("\r\n", " ", "\n", " ").Replace(text)
			}
			b.WriteString(text)
		case html.StartTagToken, html.SelfClosingTagToken:
			if dropWithContent[tok.DataAtom] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if skip > 0 || !allowed[tok.DataAtom] {
				continue
			}
			b.WriteString(cleanTag(tok).String())
		case html.EndTagToken:
			if dropWithContent[tok.DataAtom] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip > 0 || !allowed[tok.DataAtom] {
				continue
			}
			b.WriteString(tok.String())
		}
	}
	return strings.TrimSpace(b.String())
}

// cleanTag keeps only href on anchors.
func cleanTag(t html.Token) html.Token {
	var attrs []html.Attribute
	if t.DataAtom == atom.A {
		for _, a := range t.Attr {
			if a.Key == "href" {
				attrs = append(attrs, html.Attribute{Key: "href", Val: a.Val})
			}
		}
	}
	t.Attr = attrs
	return t
}
