// Package extractor recovers participant records from search result markup.
package extractor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/timmy/portalflow/internal/domain"
	"golang.org/x/net/html"
)

const (
	defaultPayloadAttribute = "data-record"
	defaultSectionHeading   = "Participant Name"
	defaultWindow           = 500
)

var (
	nameRe = regexp.MustCompile(`(?i:\bname\b)(?:\s*:|(?:\s*<[^>]+>)+\s*:?)\s*(?:<[^>]+>\s*)*([A-Z][A-Za-z.'\-]*(?:[ \t]+[A-Z][A-Za-z.'\-]*)*)`)
	idRe   = regexp.MustCompile(`(?:^|\D)(\d{16})(?:\D|$)`)
	dateRe = regexp.MustCompile(`(?:^|\D)(\d{2}-\d{2}-\d{4})(?:\D|$)`)

	// a line holding only two or more capitalized words, e.g. "Jane Q. Doe"
	bareNameRe = regexp.MustCompile(`^([A-Z][a-z][A-Za-z'\-]*(?:[ \t]+(?:[A-Z][a-z][A-Za-z'\-]*|[A-Z]\.?))+)[.,;]?$`)
)

const maxNameWords = 5

// words that start the next label rather than continue a name
var labelWords = map[string]bool{
	"address": true, "birth": true, "born": true, "date": true, "dob": true,
	"id": true, "identifier": true, "national": true, "nid": true, "status": true,
}

// payload keys accepted for each record field, in priority order
var (
	nameKeys       = []string{"name", "full_name", "fullName"}
	nationalIDKeys = []string{"national_id", "nationalId", "nid"}
	birthDateKeys  = []string{"birth_date", "birthDate", "dob"}
	identifierKeys = []string{"identifier", "id_number"}
)

// Config tunes where the extractor looks.
type Config struct {
	PayloadAttribute string
	SectionHeading   string
	Window           int
}

// Extractor applies a fixed cascade of strategies to result markup.
type Extractor struct {
	cfg Config
}

// New creates an Extractor, filling unset options with defaults.
func New(cfg Config) *Extractor {
	if cfg.PayloadAttribute == "" {
		cfg.PayloadAttribute = defaultPayloadAttribute
	}
	if cfg.SectionHeading == "" {
		cfg.SectionHeading = defaultSectionHeading
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	return &Extractor{cfg: cfg}
}

// Extract runs the encoded payload, labeled block and free text strategies in
// that order. A field set by an earlier strategy is never overwritten.
// It never fails; an empty record means nothing was found.
func (e *Extractor) Extract(markup string) domain.ExtractedRecord {
	var rec domain.ExtractedRecord
	if markup == "" {
		return rec
	}
	merge(&rec, e.fromPayload(markup))
	merge(&rec, e.fromLabeledBlock(markup))
	merge(&rec, fromText(flatten(markup)))
	return rec
}

func merge(dst *domain.ExtractedRecord, src domain.ExtractedRecord) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.NationalID == "" {
		dst.NationalID = src.NationalID
	}
	if dst.BirthDate == "" {
		dst.BirthDate = src.BirthDate
	}
	if dst.Identifier == "" {
		dst.Identifier = src.Identifier
	}
}

// fromPayload decodes base64 JSON carried in the payload attribute.
// The first decodable element wins.
func (e *Extractor) fromPayload(markup string) domain.ExtractedRecord {
	var rec domain.ExtractedRecord
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return rec
	}

	attr := e.cfg.PayloadAttribute
	doc.Find("[" + attr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw, _ := s.Attr(attr)
		fields, err := decodePayload(raw)
		if err != nil {
			return true
		}
		rec = domain.ExtractedRecord{
			Name:       pick(fields, nameKeys),
			NationalID: pick(fields, nationalIDKeys),
			BirthDate:  pick(fields, birthDateKeys),
			Identifier: pick(fields, identifierKeys),
		}
		return rec.IsEmpty()
	})
	return rec
}

func decodePayload(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	var data []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err = enc.DecodeString(raw); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return fields, nil
}

func pick(fields map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case json.Number:
			s = x.String()
		case float64:
			s = fmt.Sprintf("%.0f", x)
		default:
			s = fmt.Sprint(x)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// fromLabeledBlock looks only at a bounded window after the section heading.
func (e *Extractor) fromLabeledBlock(markup string) domain.ExtractedRecord {
	idx := strings.Index(markup, e.cfg.SectionHeading)
	if idx < 0 {
		return domain.ExtractedRecord{}
	}
	start := idx + len(e.cfg.SectionHeading)
	end := min(start+e.cfg.Window, len(markup))
	window := markup[start:end]

	rec := fromText(window)
	if rec.Name == "" {
		rec.Name = bareName(flatten(window))
	}
	return rec
}

// bareName returns the first flattened line that reads as a name on its own.
func bareName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if m := bareNameRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if name := trimName(m[1]); name != "" {
				return name
			}
		}
	}
	return ""
}

// trimName cuts a captured name at the first label word and caps its length.
func trimName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		if i >= maxNameWords || labelWords[strings.ToLower(strings.Trim(w, ".:"))] {
			words = words[:i]
			break
		}
	}
	return strings.Join(words, " ")
}

func fromText(text string) domain.ExtractedRecord {
	var rec domain.ExtractedRecord
	if m := nameRe.FindStringSubmatch(text); m != nil {
		rec.Name = trimName(m[1])
	}
	if m := idRe.FindStringSubmatch(text); m != nil {
		rec.NationalID = m[1]
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		rec.BirthDate = m[1]
	}
	return rec
}

// flatten strips tags, drops script and style bodies, and joins text nodes by newline.
func flatten(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var parts []string
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; keep what was read
			return strings.Join(parts, "\n")
		case html.StartTagToken:
			if isSkipped(z) {
				skip++
			}
		case html.EndTagToken:
			if isSkipped(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				parts = append(parts, t)
			}
		}
	}
}

func isSkipped(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	tag := string(name)
	return tag == "script" || tag == "style"
}
