package rss

import (
	"encoding/xml"
	"fmt"
	"os"
)

type opml struct {
	XMLName xml.Name `xml:"opml"`
	Body    struct {
		Outlines []outline `xml:"outline"`
	} `xml:"body"`
}

type outline struct {
	Title    string    `xml:"title,attr"`
	Text     string    `xml:"text,attr"`
	XMLURL   string    `xml:"xmlUrl,attr"`
	Outlines []outline `xml:"outline"`
}

// Feed is one subscription the provider polls.
type Feed struct {
	URL  string
	Name string
}

func ParseOPML(data []byte) ([]Feed, error) {
	var doc opml
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	var feeds []Feed
	collectFeeds(&feeds, doc.Body.Outlines)
	return feeds, nil
}

func collectFeeds(result *[]Feed, outlines []outline) {
	for _, o := range outlines {
		if o.XMLURL != "" {
			name := o.Title
			if name == "" {
				name = o.Text
			}
			if name == "" {
				name = o.XMLURL
			}
			*result = append(*result, Feed{URL: o.XMLURL, Name: name})
		}
		collectFeeds(result, o.Outlines)
	}
}

func LoadOPMLFile(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read OPML file: %w", err)
	}
	return ParseOPML(data)
}
