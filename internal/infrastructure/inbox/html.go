package inbox

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTagExpr    = regexp.MustCompile(`(?i)<(html|body|div|p|br|span|table|a|b|i|strong|em|ul|ol|li|h[1-6])\b[^>]*>`)
	whitespaceExpr = regexp.MustCompile(`[ \t\f\r]+`)
	blankLinesExpr = regexp.MustCompile(`\n{3,}`)
)

// looksLikeHTML reports whether s carries common markup tags.
func looksLikeHTML(s string) bool {
	return htmlTagExpr.MatchString(s)
}

// HTMLToText reduces an HTML fragment to readable plain text. Block elements
// become line breaks; scripts, styles and quoted replies are dropped.
func HTMLToText(s string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, blockquote.gmail_quote").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	text := doc.Text()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceExpr.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesExpr.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

// firstLink returns the first absolute http(s) href in the fragment.
func firstLink(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return ""
	}
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		v, _ := a.Attr("href")
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			href = v
			return false
		}
		return true
	})
	return href
}
