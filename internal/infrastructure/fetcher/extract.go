package fetcher

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// readLimit bounds how much of a page is read; forum posts are small.
const readLimit = 2 << 20

func readBody(resp *http.Response) (string, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, readLimit))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// contentSelectors are tried in order; the longest extracted candidate wins.
var contentSelectors = []string{
	"article",
	".post-content",
	".topic-content",
	".markdown-body",
	"main",
}

const minCandidateChars = 80

// extractMainText pulls the main post body out of a page, dropping script
// and style noise.
func extractMainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	var best string
	for _, selector := range contentSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text := collapseWhitespace(sel.Text())
			if len(text) >= minCandidateChars && len(text) > len(best) {
				best = text
			}
		})
	}

	if best == "" {
		best = collapseWhitespace(doc.Find("body").Text())
		if len(best) < minCandidateChars {
			return "", nil
		}
	}

	return best, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
