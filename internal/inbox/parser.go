package inbox

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Markup holds text the sender highlighted in rendered mail.
// Blue text means "use this text", red text means "remove this text".
type Markup struct {
	UseText    []string `json:"use_text,omitempty"`
	RemoveText []string `json:"remove_text,omitempty"`
}

// HasUse reports whether any "use this text" markup was found.
func (m Markup) HasUse() bool { return len(m.UseText) > 0 }

// HasRemove reports whether any "remove this text" markup was found.
func (m Markup) HasRemove() bool { return len(m.RemoveText) > 0 }

type markKind int

const (
	markNone markKind = iota
	markUse
	markRemove
)

var (
	useColors = map[string]bool{
		"#0432ff": true, "#0000ff": true, "blue": true, "#00f": true,
		"rgb(0,0,255)": true, "rgb(4,50,255)": true,
	}
	removeColors = map[string]bool{
		"#ff0000": true, "#f00": true, "red": true, "rgb(255,0,0)": true,
	}

	styleColor = regexp.MustCompile(`(?i)(?:^|;)\s*color\s*:\s*([^;]+)`)
	spaceRun   = regexp.MustCompile(`\s+`)
)

const coloredSelector = "font[color], [style]"

// ExtractColoredText finds blue and red text in an HTML body. Nested elements
// of the same color are reported once, through their outermost element.
func ExtractColoredText(html string) Markup {
	var m Markup
	if strings.TrimSpace(html) == "" {
		return m
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return m
	}

	doc.Find(coloredSelector).Each(func(i int, s *goquery.Selection) {
		kind := markOf(s)
		if kind == markNone || insideSameMark(s, kind) {
			return
		}
		text := strings.TrimSpace(spaceRun.ReplaceAllString(s.Text(), " "))
		if text == "" {
			return
		}
		switch kind {
		case markUse:
			m.UseText = appendUnique(m.UseText, text)
		case markRemove:
			m.RemoveText = appendUnique(m.RemoveText, text)
		}
	})

	return m
}

func markOf(s *goquery.Selection) markKind {
	color := ""
	if c, ok := s.Attr("color"); ok && goquery.NodeName(s) == "font" {
		color = c
	} else if style, ok := s.Attr("style"); ok {
		if match := styleColor.FindStringSubmatch(style); match != nil {
			color = match[1]
		}
	}

	color = strings.ToLower(strings.Join(strings.Fields(color), ""))
	color = strings.TrimSuffix(color, "!important")
	switch {
	case useColors[color]:
		return markUse
	case removeColors[color]:
		return markRemove
	}
	return markNone
}

func insideSameMark(s *goquery.Selection, kind markKind) bool {
	parents := s.ParentsFiltered(coloredSelector)
	for i := 0; i < parents.Length(); i++ {
		if k := markOf(parents.Eq(i)); k != markNone {
			return k == kind
		}
	}
	return false
}

// htmlToText renders an HTML body as plain text, keeping line breaks
// for <br> and block elements.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return stripHTMLSimple(html)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return doc.Text()
}

// htmlLinks returns every href in an HTML body.
func htmlLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var links []string
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, href)
		}
	})
	return links
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripHTMLSimple(html string) string {
	return tagPattern.ReplaceAllString(html, " ")
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
