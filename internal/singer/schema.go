package singer

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Stream describes an extractable entity.
type Stream struct {
	Name          string
	KeyProperties []string
	// ReplicationKey is the field used for incremental bookmarks.
	ReplicationKey string
}

// Users is the only stream this tap extracts.
var Users = Stream{
	Name:           "users",
	KeyProperties:  []string{"user_id"},
	ReplicationKey: "updated_at",
}

// LoadSchema returns the embedded JSON schema for an entity.
func LoadSchema(name string) (json.RawMessage, error) {
	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %q: %w", name, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("schema %q is not valid JSON", name)
	}
	return json.RawMessage(data), nil
}

type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

type CatalogEntry struct {
	TapStreamID       string          `json:"tap_stream_id"`
	Stream            string          `json:"stream"`
	Schema            json.RawMessage `json:"schema"`
	KeyProperties     []string        `json:"key_properties"`
	ReplicationKey    string          `json:"replication_key,omitempty"`
	ReplicationMethod string          `json:"replication_method"`
}

// Discover builds the catalog printed in --discover mode.
func Discover(streams ...Stream) (*Catalog, error) {
	catalog := &Catalog{Streams: make([]CatalogEntry, 0, len(streams))}
	for _, s := range streams {
		schema, err := LoadSchema(s.Name)
		if err != nil {
			return nil, err
		}
		catalog.Streams = append(catalog.Streams, CatalogEntry{
			TapStreamID:       s.Name,
			Stream:            s.Name,
			Schema:            schema,
			KeyProperties:     s.KeyProperties,
			ReplicationKey:    s.ReplicationKey,
			ReplicationMethod: "INCREMENTAL",
		})
	}
	return catalog, nil
}
