package archive

import (
	"encoding/json"
	"fmt"
	"io"
)

// Manifest is the content of cards.json.
type Manifest struct {
	Version string         `json:"version"`
	Cards   []ManifestCard `json:"cards"`
}

// ManifestCard is one card of a manifest. Only the configuration travels;
// scheduling state is reset on import.
type ManifestCard struct {
	Config json.RawMessage `json:"config"`
}

// NewManifest creates an empty manifest of the current version.
func NewManifest() *Manifest {
	return &Manifest{Version: Version, Cards: []ManifestCard{}}
}

// Add appends a card with the given encoded configuration.
func (m *Manifest) Add(config []byte) {
	m.Cards = append(m.Cards, ManifestCard{Config: json.RawMessage(config)})
}

// DecodeManifest parses a manifest and checks its version.
// Card configurations are not interpreted.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, invalid("%s is not valid JSON: %v", ManifestName, err)
	}
	if m.Version != Version {
		return nil, invalid("unsupported manifest version %q", m.Version)
	}
	if m.Cards == nil {
		return nil, invalid("%s has no cards array", ManifestName)
	}
	return &m, nil
}

// Encode writes the manifest as indented JSON.
func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return nil
}
