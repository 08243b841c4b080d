package migrate

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"golang.org/x/net/html"

	"github.com/claystudio/contentsync/internal/content"
)

// Legacy values are loosely typed. The readers below return the zero value
// for anything malformed; builders omit zero fields.

// record returns the normalized value of a row as an object.
func record(v any) map[string]any {
	m, _ := NormalizeValue(v).(map[string]any)
	return m
}

// richValue returns the raw value of the first present key, with numeric
// keys still intact for NormalizeRichContent.
func richValue(v any, keys ...string) any {
	m, _ := v.(map[string]any)
	return firstPresent(m, keys...)
}

// firstString returns the first non-empty string (or number) under keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch t := m[k].(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

// boolField accepts booleans and the usual string spellings.
func boolField(m map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		switch t := m[k].(type) {
		case bool:
			return t, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, true
			}
		case float64:
			return t != 0, true
		}
	}
	return false, false
}

// numberField accepts numbers and numeric strings with an optional
// leading currency sign.
func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch t := m[k].(type) {
		case float64:
			return t, true
		case string:
			s := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), "$€£"))
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// stringList accepts a list of strings or a comma-separated string.
func stringList(m map[string]any, key string) []string {
	var out []string
	switch t := m[key].(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// categoryAliases maps lowercase alphanumeric spellings to categories.
var categoryAliases = map[string]content.Category{
	"class":           content.CategoryClass,
	"classes":         content.CategoryClass,
	"course":          content.CategoryClass,
	"workshop":        content.CategoryWorkshop,
	"workshops":       content.CategoryWorkshop,
	"private":         content.CategoryPrivate,
	"privatesession":  content.CategoryPrivate,
	"privatesessions": content.CategoryPrivate,
	"giftcard":        content.CategoryGiftCard,
	"giftcards":       content.CategoryGiftCard,
	"gift":            content.CategoryGiftCard,
}

// parseCategory maps a legacy category spelling to a category.
func parseCategory(s string) (content.Category, bool) {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	c, ok := categoryAliases[b.String()]
	return c, ok
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate reads RFC 3339, a plain date, or a natural-language date
// ("last friday", "3 weeks ago") relative to base. Returns "" when nothing
// matches.
func parseDate(s string, base time.Time) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC().Format(time.RFC3339)
	}

	r, err := dateParser.Parse(s, base)
	if err != nil || r == nil {
		return ""
	}
	return r.Time.UTC().Format(time.RFC3339)
}

// excerptLength is the rune limit of a derived excerpt.
const excerptLength = 200

// excerptFromHTML returns the leading plain text of an HTML fragment,
// cut at a word boundary.
func excerptFromHTML(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(strings.Fields(b.String()), " ")
	if utf8.RuneCountInString(text) <= excerptLength {
		return text
	}

	runes := []rune(text)[:excerptLength]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
