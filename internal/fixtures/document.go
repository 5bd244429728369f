// Package fixtures builds the sample document graph used by the CLI load
// command and by tests across packages.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"

	"fhirdoc/pkg/domain"
)

// ObservationCount is the number of observations in the sample List.
const ObservationCount = 5

// Scenario is a Composition whose sections point at a Patient, an
// Organization, an Encounter, a List of observations and each observation
// directly. It resolves to ten distinct records.
type Scenario struct {
	Composition  domain.Key
	Patient      domain.Key
	Organization domain.Key
	Encounter    domain.Key
	List         domain.Key
	Observations []domain.Key
	Records      []domain.Record
}

type ref struct {
	Reference string `json:"reference"`
}

func refTo(k domain.Key) ref { return ref{Reference: k.String()} }

// DocumentScenario returns the sample graph. Ids are stable so tests can
// assert on them.
func DocumentScenario() Scenario {
	s := Scenario{
		Composition:  domain.NewKey("Composition", "comp-1"),
		Patient:      domain.NewKey("Patient", "pat-1"),
		Organization: domain.NewKey("Organization", "org-1"),
		Encounter:    domain.NewKey("Encounter", "enc-1"),
		List:         domain.NewKey("List", "list-1"),
	}
	for i := 1; i <= ObservationCount; i++ {
		s.Observations = append(s.Observations, domain.NewKey("Observation", fmt.Sprintf("obs-%d", i)))
	}

	s.add(s.Organization, map[string]any{"name": "an org"})
	s.add(s.Patient, map[string]any{"managingOrganization": refTo(s.Organization)})
	s.add(s.Encounter, map[string]any{
		"status":          "arrived",
		"subject":         refTo(s.Patient),
		"serviceProvider": refTo(s.Organization),
	})
	listEntries := make([]map[string]any, 0, len(s.Observations))
	for _, obs := range s.Observations {
		s.add(obs, map[string]any{"status": "final", "subject": refTo(s.Patient)})
		listEntries = append(listEntries, map[string]any{"item": refTo(obs)})
	}
	s.add(s.List, map[string]any{"status": "current", "mode": "working", "entry": listEntries})

	sections := []map[string]any{
		{"entry": []ref{refTo(s.Patient)}},
		{"entry": []ref{refTo(s.Organization)}},
		{"entry": []ref{refTo(s.Encounter)}},
		{"entry": []ref{refTo(s.List)}},
	}
	for _, obs := range s.Observations {
		sections = append(sections, map[string]any{"entry": []ref{refTo(obs)}})
	}
	s.add(s.Composition, map[string]any{
		"status":  "final",
		"title":   "Sample document",
		"subject": refTo(s.Patient),
		"section": sections,
	})
	return s
}

func (s *Scenario) add(key domain.Key, fields map[string]any) {
	fields["resourceType"] = key.Type
	fields["id"] = key.ID
	body, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("fixtures: encode %s: %v", key, err))
	}
	s.Records = append(s.Records, domain.Record{Key: key, Body: body})
}

// Keys lists every record key of the scenario, in the order the assembler
// discovers them.
func (s Scenario) Keys() []domain.Key {
	keys := []domain.Key{s.Composition, s.Patient, s.Organization, s.Encounter, s.List}
	return append(keys, s.Observations...)
}

// Load writes every record to store.
func (s Scenario) Load(ctx context.Context, store domain.RecordStore) error {
	for _, rec := range s.Records {
		if _, err := store.Put(ctx, rec); err != nil {
			return fmt.Errorf("load %s: %w", rec.Key, err)
		}
	}
	return nil
}

// CollectionBundle renders the scenario as a collection Bundle, the format
// accepted by the load command.
func (s Scenario) CollectionBundle() ([]byte, error) {
	b := domain.Bundle{ResourceType: domain.TypeBundle, Type: "collection"}
	for _, rec := range s.Records {
		b.Entry = append(b.Entry, domain.BundleEntry{FullURL: rec.Key.String(), Resource: rec.Body})
	}
	return json.MarshalIndent(b, "", "  ")
}
