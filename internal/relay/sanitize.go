package relay

import "github.com/microcosm-cc/bluemonday"

// NewPolicy returns the HTML policy applied to chat text: the minimal markup
// Slashdot allows. Links keep only http, https and mailto targets and are
// marked nofollow. Everything else, scripts included, is stripped.
func NewPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"b", "u", "i", "br", "p", "blockquote",
		"ul", "ol", "li", "dl", "dt", "dd",
		"em", "strong", "tt", "q",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	return p
}
