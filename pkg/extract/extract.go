// Package extract pulls numeric fields out of scraped pages using ranked
// selector and pattern candidates, so markup drift is a table change.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// Candidate is one way of locating a field's value.
type Candidate struct {
	// Selector is a CSS selector; empty means the whole document text.
	Selector string
	// Attr reads an attribute of each match instead of its text.
	Attr string
	// Pattern, when set, is applied to the selected text; the first
	// submatch (or the whole match) is parsed.
	Pattern *regexp.Regexp
	// Parse converts matched text to a value. Defaults to FirstInt.
	Parse func(string) (int, bool)
}

// Field is the ordered candidate list for one named value.
type Field struct {
	Fallback   *int
	Name       string
	Candidates []Candidate
	Max        int // values above Max are implausible; 0 disables the check
	Required   bool
}

// Rules is a declarative per-platform extraction table.
type Rules []Field

// Source records where a value came from.
type Source int

const (
	// Missing means no candidate matched and no fallback applied.
	Missing Source = iota
	// Matched means a candidate produced the value.
	Matched
	// Fallback means the configured default was used.
	Fallback
)

// Value is a single field's outcome.
type Value struct {
	N         int
	Source    Source
	Candidate int // index of the matching candidate, -1 otherwise
	Rejected  int // candidates that matched but exceeded Max
}

// Result maps field names to extracted values.
type Result map[string]Value

// Int returns the value for name and whether it was found or defaulted.
func (r Result) Int(name string) (int, bool) {
	v, ok := r[name]
	if !ok || v.Source == Missing {
		return 0, false
	}
	return v.N, true
}

// Ptr returns a pointer to the value for name, or nil if missing.
func (r Result) Ptr(name string) *int {
	if n, ok := r.Int(name); ok {
		return &n
	}
	return nil
}

// Defaulted lists fields filled from a fallback.
func (r Result) Defaulted() []string {
	var out []string
	for name, v := range r {
		if v.Source == Fallback {
			out = append(out, name)
		}
	}
	return out
}

// Run evaluates every field against doc. It fails only when a Required
// field has neither a match nor a fallback.
func Run(doc *goquery.Document, rules Rules) (Result, error) {
	res := make(Result, len(rules))
	for _, f := range rules {
		v := f.Eval(doc)
		res[f.Name] = v
		if v.Source == Missing && f.Required {
			return res, fmt.Errorf("%w: field %q", profile.ErrExtractionExhausted, f.Name)
		}
	}
	return res, nil
}

// Eval applies the field's candidates in order and returns the first
// plausible numeric match, else the fallback.
func (f Field) Eval(doc *goquery.Document) Value {
	v := Value{Candidate: -1}
	for i, c := range f.Candidates {
		n, ok := c.eval(doc)
		if !ok {
			continue
		}
		if f.Max > 0 && n > f.Max {
			v.Rejected++
			continue
		}
		v.N, v.Source, v.Candidate = n, Matched, i
		return v
	}
	if f.Fallback != nil {
		v.N, v.Source = *f.Fallback, Fallback
	}
	return v
}

func (c Candidate) eval(doc *goquery.Document) (int, bool) {
	parse := c.Parse
	if parse == nil {
		parse = FirstInt
	}

	var texts []string
	if c.Selector == "" {
		texts = []string{doc.Text()}
	} else {
		doc.Find(c.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if c.Attr != "" {
				if a, ok := s.Attr(c.Attr); ok {
					texts = append(texts, a)
				}
			} else {
				texts = append(texts, s.Text())
			}
			return true
		})
	}

	for _, t := range texts {
		if c.Pattern != nil {
			m := c.Pattern.FindStringSubmatch(t)
			if m == nil {
				continue
			}
			t = m[0]
			if len(m) > 1 {
				t = m[1]
			}
		}
		if n, ok := parse(t); ok {
			return n, true
		}
	}
	return 0, false
}

// Text returns the trimmed text of the first non-empty candidate match.
// Patterns and attributes apply as for numeric candidates.
func Text(doc *goquery.Document, candidates ...Candidate) string {
	for _, c := range candidates {
		var out string
		sel := doc.Selection
		if c.Selector != "" {
			sel = doc.Find(c.Selector)
		}
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t := s.Text()
			if c.Attr != "" {
				t, _ = s.Attr(c.Attr)
			}
			if c.Pattern != nil {
				m := c.Pattern.FindStringSubmatch(t)
				switch {
				case m == nil:
					t = ""
				case len(m) > 1:
					t = m[1]
				default:
					t = m[0]
				}
			}
			out = strings.TrimSpace(t)
			return out == ""
		})
		if out != "" {
			return out
		}
	}
	return ""
}

var digitRun = regexp.MustCompile(`\d[\d,]*`)

// FirstInt parses the first contiguous digit run in s, ignoring thousands
// separators. Non-numeric text yields false.
func FirstInt(s string) (int, bool) {
	m := digitRun.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// LimitSuffix marks an override key as a field's Max rather than its
// fallback value, e.g. "contests.max".
const LimitSuffix = ".max"

// WithFallbacks returns a copy of r with the named fields' fallback values
// replaced. Keys ending in LimitSuffix replace the field's Max instead.
// Unknown names are ignored.
func (r Rules) WithFallbacks(fallbacks map[string]int) Rules {
	if len(fallbacks) == 0 {
		return r
	}
	out := make(Rules, len(r))
	copy(out, r)
	for i := range out {
		if v, ok := fallbacks[out[i].Name]; ok {
			out[i].Fallback = &v
		}
		if v, ok := fallbacks[out[i].Name+LimitSuffix]; ok && v >= 0 {
			out[i].Max = v
		}
	}
	return out
}

// Calendar reads heatmap cells matching selector, keyed by the dateAttr
// attribute with counts from countAttr. Cells with a non-numeric or zero
// count are skipped; dates are returned as found.
func Calendar(doc *goquery.Document, selector, dateAttr, countAttr string) map[string]int {
	out := make(map[string]int)
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		date := strings.TrimSpace(s.AttrOr(dateAttr, ""))
		n, ok := FirstInt(s.AttrOr(countAttr, ""))
		if date == "" || !ok || n == 0 {
			return
		}
		out[date] += n
	})
	return out
}
