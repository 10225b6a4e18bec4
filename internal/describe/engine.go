// Package describe renders a submission description for one destination:
// built-in and custom shortcut expansion, destination restrictions,
// normalization, username links, formatting and the advertisement.
package describe

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"postcast/internal/destination"
	"postcast/internal/richtext"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

// AdvertisementHTML is appended when the advertise setting is on and the
// destination allows it.
const AdvertisementHTML = "<p>Posted using Postcast</p>"

// SettingAdvertise is the settings key of the advertisement toggle.
const SettingAdvertise = "advertise"

// DynamicPlaceholder marks where a dynamic shortcut puts the captured text.
const DynamicPlaceholder = "{$}"

// Shortcut is a user defined token. Destinations, when set, limits the
// destinations it expands for.
type Shortcut struct {
	Key          string   `json:"shortcut"`
	Content      string   `json:"content"`
	Dynamic      bool     `json:"is_dynamic,omitempty"`
	Destinations []string `json:"destinations,omitempty"`
}

func (s Shortcut) allows(dest string) bool {
	if len(s.Destinations) == 0 {
		return true
	}
	return containsFold(s.Destinations, dest)
}

type ShortcutSource interface {
	Shortcuts() []Shortcut
}

// Shortcuts is a fixed ShortcutSource.
type Shortcuts []Shortcut

func (s Shortcuts) Shortcuts() []Shortcut { return s }

type Settings interface {
	Bool(key string) bool
}

// Input is one render request.
type Input struct {
	Description string
	Override    string
	Title       string
	Tags        []string
	Destination string
	Kind        submission.Kind
}

type Engine struct {
	registry  *destination.Registry
	shortcuts ShortcutSource
	settings  Settings
	log       logx.Logger
}

type Option func(*Engine)

func WithShortcuts(s ShortcutSource) Option { return func(e *Engine) { e.shortcuts = s } }
func WithSettings(s Settings) Option        { return func(e *Engine) { e.settings = s } }
func WithLogger(l logx.Logger) Option       { return func(e *Engine) { e.log = l } }

func New(reg *destination.Registry, opts ...Option) *Engine {
	e := &Engine{registry: reg}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	e.log = e.log.With(logx.String("comp", "describe"))
	return e
}

// profile is what rendering needs to know about a destination. Unknown
// destinations render as plaintext without hooks.
type profile struct {
	meta destination.Metadata
	pre  destination.PreFormatter
	post destination.PostFormatter
}

func (e *Engine) profile(id string) profile {
	p := profile{meta: destination.Metadata{ID: id, Formatter: richtext.Plaintext}}
	if e.registry == nil {
		return p
	}
	a, err := e.registry.Get(id)
	if err != nil {
		return p
	}
	p.meta = a.Metadata()
	if p.meta.Formatter == "" {
		p.meta.Formatter = richtext.Plaintext
	}
	p.pre, _ = a.(destination.PreFormatter)
	p.post, _ = a.(destination.PostFormatter)
	return p
}

func (e *Engine) usernameShortcuts() []destination.UsernameShortcut {
	if e.registry == nil {
		return nil
	}
	return e.registry.UsernameShortcuts()
}

// Render produces the final description text for in.Destination.
func (e *Engine) Render(in Input) (string, error) {
	p := e.profile(in.Destination)
	dest := strings.ToLower(p.meta.ID)

	desc := strings.TrimSpace(in.Description)
	if o := strings.TrimSpace(in.Override); o != "" {
		desc = o
	}

	if desc != "" {
		segs, err := tokenize(desc)
		if err != nil {
			e.log.Debug("description rejected", logx.String("destination", dest), logx.Err(err))
			return "", err
		}
		if segs, err = expandBuiltins(segs, in); err != nil {
			return "", err
		}
		e.applyOnly(segs, dest)
		e.applyCustom(segs, dest)
		desc, err = e.assemble(segs)
		if err != nil {
			return "", err
		}

		desc = richtext.Normalize(desc)
		if p.pre != nil {
			desc = p.pre.PreFormat(desc, in.Kind)
		}
		desc = expandUsernames(desc, e.usernameShortcuts())
		desc = richtext.Format(p.meta.Formatter, desc)
	}

	if p.meta.Advertisement && e.settings != nil && e.settings.Bool(SettingAdvertise) {
		desc = appendAd(desc, p.meta.Formatter)
	}
	if p.post != nil {
		desc = p.post.PostFormat(desc, in.Kind)
	}
	return strings.TrimSpace(desc), nil
}

// expandBuiltins fills plain {title} and {tags} tokens with literal text
// and splices the tokenized default description in for {description}. None
// of the substituted text is parsed a second time.
func expandBuiltins(segs []segment, in Input) ([]segment, error) {
	out := make([]segment, 0, len(segs))
	for _, s := range segs {
		if s.tok.plain() && s.tok.key == "description" {
			inner, err := tokenize(in.Description)
			if err != nil {
				return nil, err
			}
			for _, is := range inner {
				if is.tok.plain() && is.tok.key == "description" {
					is.tok.value = &is.tok.raw
					continue
				}
				fillBuiltin(is.tok, in)
			}
			out = append(out, inner...)
			continue
		}
		fillBuiltin(s.tok, in)
		out = append(out, s)
	}
	return out, nil
}

func fillBuiltin(t *token, in Input) {
	if !t.plain() {
		return
	}
	var v string
	switch t.key {
	case "title":
		v = in.Title
	case "tags":
		v = strings.Join(in.Tags, " ")
	default:
		return
	}
	t.value = &v
}

func (e *Engine) applyOnly(segs []segment, dest string) {
	for _, s := range segs {
		t := s.tok
		if t == nil {
			continue
		}
		only, ok := t.modifiers["only"]
		if !ok {
			continue
		}
		if containsFold(strings.Split(only, ","), dest) {
			t.only = true
		} else {
			t.removed = true
		}
	}
}

var outerP = regexp.MustCompile(`(?s)^\s*<p[^>]*>|</p>\s*$`)

func (e *Engine) applyCustom(segs []segment, dest string) {
	if e.shortcuts == nil {
		return
	}
	defs := e.shortcuts.Shortcuts()
	for _, s := range segs {
		t := s.tok
		if t == nil || t.removed || t.value != nil {
			continue
		}
		for _, d := range defs {
			if !strings.EqualFold(d.Key, t.key) {
				continue
			}
			if d.Dynamic != t.hasAdd {
				continue
			}
			if !d.allows(dest) {
				t.removed = true
				break
			}
			v := outerP.ReplaceAllString(d.Content, "")
			if d.Dynamic {
				v = strings.ReplaceAll(v, DynamicPlaceholder, t.additional)
			}
			t.value = &v
			break
		}
	}
}

// assemble joins the segments back into text. Removed tokens take one side
// of their surrounding whitespace with them when both sides have some.
func (e *Engine) assemble(segs []segment) (string, error) {
	usernames := map[string]bool{}
	for _, u := range e.usernameShortcuts() {
		usernames[strings.ToLower(u.Key)] = true
	}

	var b strings.Builder
	skipLead := false
	for i, s := range segs {
		if s.tok == nil {
			text := s.text
			if skipLead {
				_, size := utf8.DecodeRuneInString(text)
				text = text[size:]
				skipLead = false
			}
			b.WriteString(text)
			continue
		}
		t := s.tok
		switch {
		case t.removed:
			if endsWithSpace(b.String()) && i+1 < len(segs) && segs[i+1].tok == nil && startsWithSpace(segs[i+1].text) {
				str := b.String()
				_, size := utf8.DecodeLastRuneInString(str)
				b.Reset()
				b.WriteString(str[:len(str)-size])
				b.WriteByte(' ')
				skipLead = true
			}
		case t.value != nil:
			b.WriteString(*t.value)
		case t.hasAdd && usernames[strings.ToLower(t.key)]:
			b.WriteString("{" + t.bare() + "}")
		case t.only:
			b.WriteString(t.bare())
		default:
			return "", &ParseError{Token: t.raw, Reason: "unknown shortcut"}
		}
	}
	return b.String(), nil
}

func expandUsernames(desc string, shortcuts []destination.UsernameShortcut) string {
	for _, sc := range shortcuts {
		if sc.Key == "" {
			continue
		}
		re, err := regexp.Compile(`\{` + regexp.QuoteMeta(sc.Key) + `:([^{}]+?)\}`)
		if err != nil {
			continue
		}
		desc = re.ReplaceAllStringFunc(desc, func(m string) string {
			name := strings.TrimSpace(re.FindStringSubmatch(m)[1])
			url := strings.ReplaceAll(sc.URL, "$1", name)
			return `<a href="` + url + `">` + name + `</a>`
		})
	}
	return desc
}

func appendAd(desc string, f richtext.Formatter) string {
	ad := richtext.Format(f, AdvertisementHTML)
	if strings.TrimSpace(desc) == "" {
		return ad
	}
	if f == richtext.HTML {
		return desc + "<br><br>" + ad
	}
	return desc + "\n\n" + ad
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return s != "" && unicode.IsSpace(r)
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return s != "" && unicode.IsSpace(r)
}
