package richtext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type Formatter string

const (
	Plaintext Formatter = "plaintext"
	HTML      Formatter = "html"
	Markdown  Formatter = "markdown"
	BBCode    Formatter = "bbcode"
)

func (f Formatter) Valid() bool {
	switch f {
	case Plaintext, HTML, Markdown, BBCode:
		return true
	}
	return false
}

// Format renders a normalized fragment. Unknown formatters fall back to
// plaintext.
func Format(f Formatter, fragment string) string {
	switch f {
	case HTML:
		return Sanitize(fragment)
	case Markdown:
		return render(fragment, markdownRules)
	case BBCode:
		return render(fragment, bbcodeRules)
	default:
		return render(fragment, plainRules)
	}
}

type rules struct {
	open    func(t html.Token) string
	close   func(a atom.Atom) string
	link    func(text, href string) string
	escText func(s string) string
}

var blockEnd = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Blockquote: true, atom.Pre: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true,
}

var plainRules = rules{
	open: func(t html.Token) string {
		switch t.DataAtom {
		case atom.Br, atom.Hr:
			return "\n"
		case atom.Li:
			return "- "
		}
		return ""
	},
	close: func(a atom.Atom) string {
		if a == atom.Li {
			return "\n"
		}
		if blockEnd[a] {
			return "\n\n"
		}
		return ""
	},
	link: func(text, href string) string {
		switch {
		case href == "" || text == href:
			return text
		case text == "":
			return href
		}
		return text + " (" + href + ")"
	},
	escText: func(s string) string { return s },
}

var mdEscaper = strings.NewReplacer(`*`, `\*`, `_`, `\_`, "`", "\\`", `~`, `\~`)

var markdownRules = rules{
	open: func(t html.Token) string {
		switch t.DataAtom {
		case atom.Br:
			return "\n"
		case atom.Hr:
			return "\n---\n"
		case atom.B, atom.Strong:
			return "**"
		case atom.I, atom.Em:
			return "*"
		case atom.U:
			return "__"
		case atom.S, atom.Strike, atom.Del:
			return "~~"
		case atom.Code:
			return "`"
		case atom.Li:
			return "- "
		case atom.Blockquote:
			return "> "
		case atom.H1:
			return "# "
		case atom.H2:
			return "## "
		case atom.H3, atom.H4, atom.H5, atom.H6:
			return "### "
		}
		return ""
	},
	close: func(a atom.Atom) string {
		switch a {
		case atom.B, atom.Strong:
			return "**"
		case atom.I, atom.Em:
			return "*"
		case atom.U:
			return "__"
		case atom.S, atom.Strike, atom.Del:
			return "~~"
		case atom.Code:
			return "`"
		case atom.Li:
			return "\n"
		}
		if blockEnd[a] {
			return "\n\n"
		}
		return ""
	},
	link: func(text, href string) string {
		if href == "" {
			return text
		}
		if text == "" || text == href {
			return href
		}
		return "[" + text + "](" + href + ")"
	},
	escText: mdEscaper.Replace,
}

var bbcodeRules = rules{
	open: func(t html.Token) string {
		switch t.DataAtom {
		case atom.Br:
			return "\n"
		case atom.Hr:
			return "\n[hr]\n"
		case atom.B, atom.Strong:
			return "[b]"
		case atom.I, atom.Em:
			return "[i]"
		case atom.U:
			return "[u]"
		case atom.S, atom.Strike, atom.Del:
			return "[s]"
		case atom.Code, atom.Pre:
			return "[code]"
		case atom.Blockquote:
			return "[quote]"
		case atom.Ul:
			return "[list]"
		case atom.Ol:
			return "[list=1]"
		case atom.Li:
			return "[*]"
		}
		return ""
	},
	close: func(a atom.Atom) string {
		switch a {
		case atom.B, atom.Strong:
			return "[/b]"
		case atom.I, atom.Em:
			return "[/i]"
		case atom.U:
			return "[/u]"
		case atom.S, atom.Strike, atom.Del:
			return "[/s]"
		case atom.Code, atom.Pre:
			return "[/code]"
		case atom.Blockquote:
			return "[/quote]"
		case atom.Ul, atom.Ol:
			return "[/list]"
		case atom.Li:
			return "\n"
		case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			return "\n\n"
		}
		return ""
	},
	link: func(text, href string) string {
		if href == "" {
			return text
		}
		if text == "" {
			text = href
		}
		return "[url=" + href + "]" + text + "[/url]"
	},
	escText: func(s string) string { return s },
}

var manyNewlines = regexp.MustCompile(`\n{3,}`)

func render(fragment string, r rules) string {
	var (
		out   strings.Builder
		link  *strings.Builder
		href  string
		depth int
	)
	w := func(s string) {
		if link != nil {
			link.WriteString(s)
			return
		}
		out.WriteString(s)
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		t := z.Token()
		switch tt {
		case html.TextToken:
			w(r.escText(t.Data))
		case html.StartTagToken, html.SelfClosingTagToken:
			if t.DataAtom == atom.A && tt == html.StartTagToken {
				if link == nil {
					link = &strings.Builder{}
					href = attr(t, "href")
				}
				depth++
				continue
			}
			w(r.open(t))
		case html.EndTagToken:
			if t.DataAtom == atom.A {
				if depth > 0 {
					depth--
				}
				if depth == 0 && link != nil {
					text := link.String()
					link = nil
					out.WriteString(r.link(text, href))
				}
				continue
			}
			w(r.close(t.DataAtom))
		}
	}
	if link != nil {
		out.WriteString(r.link(link.String(), href))
	}
	return tidy(out.String())
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func attr(t html.Token, key string) string {
	for _, a := range t.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Length counts runes, the unit destination limits are expressed in.
func Length(s string) int { return len([]rune(s)) }

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
