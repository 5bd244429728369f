package domain

import (
	"net/url"
	"strings"
)

// ParseReference converts a FHIR reference string into a versionless key.
// Relative ("Patient/1"), versioned ("Patient/1/_history/2") and absolute
// ("https://host/fhir/Patient/1") forms are accepted. Contained ("#a"), urn and
// otherwise unparseable references report false.
func ParseReference(ref string) (Key, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "urn:") {
		return Key{}, false
	}
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref = ref[:i]
	}
	if strings.Contains(ref, "://") {
		u, err := url.Parse(ref)
		if err != nil {
			return Key{}, false
		}
		ref = u.Path
	}
	segments := strings.Split(strings.Trim(ref, "/"), "/")
	if n := len(segments); n >= 4 && segments[n-2] == "_history" {
		segments = segments[:n-2]
	}
	if len(segments) < 2 {
		return Key{}, false
	}
	key := Key{Type: segments[len(segments)-2], ID: segments[len(segments)-1]}
	if key.Validate() != nil {
		return Key{}, false
	}
	return key, true
}
