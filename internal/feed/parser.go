package feed

import (
	"bytes"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// Parser turns raw feed payloads into normalized entry records.
type Parser struct {
	fp *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{fp: gofeed.NewParser()}
}

// ParsedFeed is the normalized form of one feed payload.
type ParsedFeed struct {
	Title string
	Items []Item
}

// Parse extracts the feed title and entries from raw feed bytes, keeping
// the feed's native order. Malformed or empty payloads yield a zero
// ParsedFeed, never an error: the pipeline treats that as "no new entries"
// for this cycle.
func (p *Parser) Parse(data []byte) ParsedFeed {
	parsed, err := p.fp.Parse(bytes.NewReader(data))
	if err != nil || parsed == nil {
		return ParsedFeed{}
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		pubDate := it.PublishedParsed
		if pubDate == nil {
			pubDate = it.UpdatedParsed
		}
		if pubDate == nil {
			now := time.Now()
			pubDate = &now
		}

		tags := make([]string, 0, len(it.Categories))
		for _, c := range it.Categories {
			if c = strings.TrimSpace(c); c != "" {
				tags = append(tags, c)
			}
		}

		items = append(items, Item{
			Title:     it.Title,
			Link:      it.Link,
			Published: *pubDate,
			Content:   CleanHTML(it.Content),
			Summary:   CleanHTML(it.Description),
			Tags:      tags,
		})
	}
	return ParsedFeed{Title: parsed.Title, Items: items}
}

// CleanHTML strips markup from an HTML fragment, dropping script and style
// subtrees and collapsing all whitespace runs into single spaces. Plain
// text passes through apart from whitespace normalization.
func CleanHTML(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return collapseWhitespace(fragment)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return collapseWhitespace(sb.String())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
