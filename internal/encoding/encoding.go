// Package encoding renders bundles in the wire formats the server offers and
// negotiates which one a request asked for.
package encoding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"fhirdoc/pkg/domain"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
)

// Content types written for each format.
const (
	ContentTypeJSON   = "application/fhir+json"
	ContentTypeNDJSON = "application/fhir+ndjson"
)

// ErrUnsupportedFormat is returned when no registered encoder matches a request.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Encoder writes a bundle to w.
type Encoder interface {
	Format() Format
	ContentType() string
	Encode(w io.Writer, bundle domain.Bundle, pretty bool) error
}

// Registry maps format names and media types to encoders.
type Registry struct {
	encoders map[Format]Encoder
	aliases  map[string]Format
	fallback Format
}

// NewRegistry returns a registry with the json and ndjson encoders. json is
// the default when a request expresses no preference.
func NewRegistry() *Registry {
	r := &Registry{encoders: map[Format]Encoder{}, aliases: map[string]Format{}, fallback: FormatJSON}
	r.Register(JSONEncoder{}, "json", "application/json", "application/fhir+json", "application/json+fhir")
	r.Register(NDJSONEncoder{}, "ndjson", "application/ndjson", "application/x-ndjson", "application/fhir+ndjson")
	return r
}

// Register adds an encoder reachable through its format name and aliases.
func (r *Registry) Register(enc Encoder, aliases ...string) {
	r.encoders[enc.Format()] = enc
	r.aliases[string(enc.Format())] = enc.Format()
	for _, a := range aliases {
		r.aliases[strings.ToLower(a)] = enc.Format()
	}
}

// Formats lists registered format names, sorted.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.encoders))
	for f := range r.encoders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup resolves a format name or media type (parameters are ignored).
func (r *Registry) Lookup(name string) (Encoder, bool) {
	f, ok := r.aliases[mediaType(name)]
	if !ok {
		return nil, false
	}
	return r.encoders[f], true
}

// Negotiate picks the encoder for a request. An explicit _format wins over the
// Accept header. Accept entries are tried in order; wildcards select the
// default. An empty request selects the default.
func (r *Registry) Negotiate(format, accept string) (Encoder, error) {
	if strings.TrimSpace(format) != "" {
		if enc, ok := r.Lookup(format); ok {
			return enc, nil
		}
		return nil, fmt.Errorf("%w: _format=%s", ErrUnsupportedFormat, format)
	}
	if strings.TrimSpace(accept) == "" {
		return r.encoders[r.fallback], nil
	}
	for _, part := range strings.Split(accept, ",") {
		mt := mediaType(part)
		if enc, ok := r.Lookup(mt); ok {
			return enc, nil
		}
		if mt == "*/*" || mt == "application/*" {
			return r.encoders[r.fallback], nil
		}
	}
	return nil, fmt.Errorf("%w: Accept=%s", ErrUnsupportedFormat, accept)
}

func mediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// JSONEncoder writes the bundle as a single FHIR JSON resource.
type JSONEncoder struct{}

func (JSONEncoder) Format() Format      { return FormatJSON }
func (JSONEncoder) ContentType() string { return ContentTypeJSON }

// Encode implements Encoder.
func (JSONEncoder) Encode(w io.Writer, bundle domain.Bundle, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(bundle); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	return nil
}

// NDJSONEncoder writes one entry resource per line, in bundle order. The
// envelope itself is not written; pretty printing does not apply.
type NDJSONEncoder struct{}

func (NDJSONEncoder) Format() Format      { return FormatNDJSON }
func (NDJSONEncoder) ContentType() string { return ContentTypeNDJSON }

// Encode implements Encoder.
func (NDJSONEncoder) Encode(w io.Writer, bundle domain.Bundle, _ bool) error {
	var line bytes.Buffer
	for _, e := range bundle.Entry {
		line.Reset()
		if err := json.Compact(&line, e.Resource); err != nil {
			return fmt.Errorf("encode entry %s: %w", e.FullURL, err)
		}
		line.WriteByte('\n')
		if _, err := w.Write(line.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
