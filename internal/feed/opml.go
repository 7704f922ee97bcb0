package feed

import (
	"encoding/xml"
	"io"
)

// Outline is one feed reference inside an OPML subscription list.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Type     string    `xml:"type,attr"`
	XMLURL   string    `xml:"xmlUrl,attr"`
	HTMLURL  string    `xml:"htmlUrl,attr"`
	Outlines []Outline `xml:"outline"`
}

type opmlDoc struct {
	Body struct {
		Outlines []Outline `xml:"outline"`
	} `xml:"body"`
}

// ParseOPML extracts every outline carrying a feed URL from an OPML
// document, flattening nested folders.
func ParseOPML(r io.Reader) ([]Outline, error) {
	var doc opmlDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	var feeds []Outline
	var walk func([]Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				feeds = append(feeds, o)
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return feeds, nil
}
