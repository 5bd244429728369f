// Package refs extracts outbound references from stored records. Extraction is
// purely structural: nothing is resolved, and keys are returned in the order the
// record declares them.
package refs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"fhirdoc/pkg/domain"
)

// Mode selects how references are discovered.
type Mode string

const (
	// ModeDocument follows only the document-relevant paths of Composition and List.
	ModeDocument Mode = "document"
	// ModeAll follows every reference found anywhere in any record.
	ModeAll Mode = "all"
)

// Extractor lists the keys a record points to.
type Extractor interface {
	Extract(record domain.Record) ([]domain.Key, error)
}

// New returns the extractor for the mode. An empty mode selects ModeDocument.
func New(mode Mode) (Extractor, error) {
	switch mode {
	case "", ModeDocument:
		return NewRuleExtractor(DocumentRules()), nil
	case ModeAll:
		return DeepExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown reference mode %q", mode)
	}
}

// Rules maps a resource type to the ordered element paths holding references.
// Paths are dot separated; arrays are flattened at every step. A segment ending
// in "+" repeats: after a matching element has been walked with the remaining
// path, it is walked again with the repeated segment, so nested sections are
// visited depth first in declaration order.
type Rules map[string][]string

// DocumentRules covers the references a document bundle must carry: the
// Composition header and sections, and the entries of any List they point at.
func DocumentRules() Rules {
	return Rules{
		domain.TypeComposition: {"subject", "encounter", "author", "attester.party", "custodian", "section+.entry"},
		domain.TypeList:        {"subject", "encounter", "source", "entry.item"},
	}
}

// RuleExtractor follows a fixed rule table.
type RuleExtractor struct {
	rules Rules
}

// NewRuleExtractor constructs an extractor over a copy of the rules.
func NewRuleExtractor(rules Rules) *RuleExtractor {
	cp := make(Rules, len(rules))
	for t, paths := range rules {
		cp[t] = append([]string(nil), paths...)
	}
	return &RuleExtractor{rules: cp}
}

// Extract implements Extractor.
func (e *RuleExtractor) Extract(record domain.Record) ([]domain.Key, error) {
	paths := e.rules[record.Key.Type]
	if len(paths) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(record.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", record.Key, err)
	}
	var out []domain.Key
	emit := func(k domain.Key) { out = append(out, k) }
	for _, path := range paths {
		walk(doc, strings.Split(path, "."), emit)
	}
	return out, nil
}

func walk(node any, segments []string, emit func(domain.Key)) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			walk(item, segments, emit)
		}
		return
	case map[string]any:
		if len(segments) == 0 {
			if ref, ok := v["reference"].(string); ok {
				if key, ok := domain.ParseReference(ref); ok {
					emit(key)
				}
			}
			return
		}
		seg := segments[0]
		repeat := strings.HasSuffix(seg, "+")
		child, ok := v[strings.TrimSuffix(seg, "+")]
		if !ok {
			return
		}
		if !repeat {
			walk(child, segments[1:], emit)
			return
		}
		items, isList := child.([]any)
		if !isList {
			items = []any{child}
		}
		for _, item := range items {
			walk(item, segments[1:], emit)
			walk(item, segments, emit)
		}
	}
}

// DeepExtractor returns every "reference" string member in document order,
// skipping contained resources.
type DeepExtractor struct{}

// Extract implements Extractor.
func (DeepExtractor) Extract(record domain.Record) ([]domain.Key, error) {
	dec := json.NewDecoder(bytes.NewReader(record.Body))
	var out []domain.Key
	if err := scan(dec, "", false, func(k domain.Key) { out = append(out, k) }); err != nil {
		return nil, fmt.Errorf("scan %s: %w", record.Key, err)
	}
	return out, nil
}

func scan(dec *json.Decoder, member string, skip bool, emit func(domain.Key)) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			for dec.More() {
				nameTok, err := dec.Token()
				if err != nil {
					return err
				}
				name, _ := nameTok.(string)
				if err := scan(dec, name, skip || name == "contained", emit); err != nil {
					return err
				}
			}
		case '[':
			for dec.More() {
				if err := scan(dec, member, skip, emit); err != nil {
					return err
				}
			}
		}
		_, err := dec.Token()
		return err
	case string:
		if !skip && member == "reference" {
			if key, ok := domain.ParseReference(t); ok {
				emit(key)
			}
		}
	}
	return nil
}
