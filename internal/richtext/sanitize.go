package richtext

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func htmlPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements(
			"p", "br", "div", "span", "b", "strong", "i", "em", "u", "s", "strike", "del",
			"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "blockquote", "code", "pre", "hr",
		)
		p.AllowAttrs("href").OnElements("a")
		p.AllowStandardURLs()
		p.RequireParseableURLs(true)
		p.AllowURLSchemes("http", "https", "mailto", "tg")
		policy = p
	})
	return policy
}

// Sanitize drops anything an HTML destination should not receive, such as
// script URLs in anchors.
func Sanitize(fragment string) string {
	return htmlPolicy().Sanitize(fragment)
}
