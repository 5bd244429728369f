package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReference(t *testing.T) {
	cases := []struct {
		name string
		ref  string
		want Key
		ok   bool
	}{
		{name: "relative", ref: "Patient/123", want: NewKey("Patient", "123"), ok: true},
		{name: "versioned", ref: "Observation/o-1/_history/4", want: NewKey("Observation", "o-1"), ok: true},
		{name: "absolute", ref: "https://example.org/fhir/Organization/org.1", want: NewKey("Organization", "org.1"), ok: true},
		{name: "absolute versioned", ref: "http://h/fhir/List/7/_history/1", want: NewKey("List", "7"), ok: true},
		{name: "query stripped", ref: "Encounter/9?foo=bar", want: NewKey("Encounter", "9"), ok: true},
		{name: "whitespace", ref: "  Patient/1 ", want: NewKey("Patient", "1"), ok: true},
		{name: "contained", ref: "#obs1"},
		{name: "urn", ref: "urn:uuid:9b3b9d4e-1111-4a5e-9d5e-000000000000"},
		{name: "empty", ref: ""},
		{name: "type only", ref: "Patient"},
		{name: "lowercase type", ref: "patient/1"},
		{name: "bad id", ref: "Patient/a b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseReference(tc.ref)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
