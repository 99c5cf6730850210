package selector

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindAttribute  Kind = "attribute"
	KindText       Kind = "text"
	KindStructural Kind = "structural"
)

type Op string

const (
	OpEquals   Op = "equals"
	OpContains Op = "contains"
	OpPresent  Op = "present"
)

// Locator is one way of finding a target. Only the fields of its Kind are meaningful.
type Locator struct {
	Kind  Kind
	Label string

	// KindAttribute: <Tag>[<Attr> <Op> <Value>]. An empty Tag matches any element.
	Tag   string
	Attr  string
	Op    Op
	Value string

	// KindText: elements named Tag whose trimmed text content matches Text, case-insensitively.
	Text  string
	Exact bool

	// KindStructural: Selector must match at least MinCount elements.
	Selector string
	MinCount int
}

func Attribute(tag, attr string, op Op, value string) Locator {
	l := Locator{Kind: KindAttribute, Tag: tag, Attr: attr, Op: op, Value: value}
	l.Label = "attribute " + l.CSS()

	return l
}

func Text(tag, text string, exact bool) Locator {
	l := Locator{Kind: KindText, Tag: tag, Text: text, Exact: exact}

	rel := "~"
	if exact {
		rel = "="
	}
	l.Label = fmt.Sprintf("text %s%s%q", tag, rel, text)

	return l
}

func Structural(selector string, minCount int) Locator {
	if minCount < 1 {
		minCount = 1
	}

	l := Locator{Kind: KindStructural, Selector: selector, MinCount: minCount}
	l.Label = "structural " + selector
	if minCount > 1 {
		l.Label += fmt.Sprintf(" (min %d)", minCount)
	}

	return l
}

// CSS returns the query sent to the driver. Text locators query by tag and
// filter afterwards.
func (l Locator) CSS() string {
	switch l.Kind {
	case KindAttribute:
		switch l.Op {
		case OpPresent:
			return fmt.Sprintf("%s[%s]", l.Tag, l.Attr)
		case OpContains:
			return fmt.Sprintf("%s[%s*=%s]", l.Tag, l.Attr, quote(l.Value))
		default:
			return fmt.Sprintf("%s[%s=%s]", l.Tag, l.Attr, quote(l.Value))
		}
	case KindText:
		if l.Tag == "" {
			return "*"
		}

		return l.Tag
	default:
		return l.Selector
	}
}

// matchText applies the text rule of a KindText locator to raw text content.
func (l Locator) matchText(content string) bool {
	got := normalize(content)
	want := normalize(l.Text)
	if want == "" {
		return false
	}
	if l.Exact {
		return got == want
	}

	return strings.Contains(got, want)
}

func (l Locator) Validate() error {
	switch l.Kind {
	case KindAttribute:
		if l.Attr == "" {
			return fmt.Errorf("%s: attribute name is empty", l.Label)
		}
		if l.Op != OpPresent && l.Value == "" {
			return fmt.Errorf("%s: attribute value is empty", l.Label)
		}
	case KindText:
		if strings.TrimSpace(l.Text) == "" {
			return fmt.Errorf("%s: text is empty", l.Label)
		}
	case KindStructural:
		if strings.TrimSpace(l.Selector) == "" {
			return fmt.Errorf("%s: selector is empty", l.Label)
		}
	default:
		return fmt.Errorf("unknown locator kind %q", l.Kind)
	}

	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)

	return `"` + v + `"`
}
