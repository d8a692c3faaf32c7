package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CardKind is the type discriminator of a card configuration.
type CardKind string

// Supported card kinds.
const (
	KindStandard       CardKind = "standard"
	KindSpelling       CardKind = "spelling"
	KindWordStandard   CardKind = "word-standard"
	KindGermanVerb     CardKind = "german-verb-conjugator"
	KindMultipleChoice CardKind = "multiple-choice"
)

// Media-reference field names. These are the configuration fields whose
// values point at stored audio or image files.
const (
	FieldVoiceFileURL         = "voice_file_url"
	FieldPronunciationFile    = "pronunciation_file"
	FieldPronunciationFileURL = "pronunciation_file_url"
	FieldImageURL             = "image_url"
)

// CardConfig is the kind-specific content of a card. The set of
// implementations is closed; see the kinds table for the supported shapes.
type CardConfig interface {
	Kind() CardKind
	isCardConfig()
}

// StandardConfig is a plain front/back card graded by the learner.
type StandardConfig struct {
	Front string `json:"front" validate:"notblank"`
	Back  string `json:"back" validate:"notblank"`
}

// SpellingConfig asks the learner to type a word after hearing it.
type SpellingConfig struct {
	Spelling     string `json:"spelling" validate:"notblank"`
	VoiceFileURL string `json:"voice_file_url" validate:"notblank"`
}

// WordStandardConfig is a vocabulary card with pronunciation audio.
type WordStandardConfig struct {
	Word              string `json:"word" validate:"notblank"`
	PartOfSpeech      string `json:"part_of_speech" validate:"notblank"`
	Back              string `json:"back" validate:"notblank"`
	PronunciationFile string `json:"pronunciation_file" validate:"notblank"`
}

// GermanVerbConfig asks for the six present tense forms of a German verb.
type GermanVerbConfig struct {
	Verb                 string  `json:"verb" validate:"notblank"`
	PronunciationFileURL *string `json:"pronunciation_file_url"`
	Ich                  string  `json:"ich" validate:"notblank"`
	Du                   string  `json:"du" validate:"notblank"`
	ErSieEs              string  `json:"er/sie/es" validate:"notblank"`
	Wir                  string  `json:"wir" validate:"notblank"`
	Ihr                  string  `json:"ihr" validate:"notblank"`
	Sie                  string  `json:"sie" validate:"notblank"`
}

// MultipleChoiceConfig is a question with a fixed set of options.
type MultipleChoiceConfig struct {
	Question     string   `json:"question" validate:"notblank"`
	Options      []string `json:"options" validate:"min=2,dive,notblank"`
	Answer       string   `json:"answer" validate:"notblank"`
	ImageURL     *string  `json:"image_url"`
	VoiceFileURL *string  `json:"voice_file_url"`
}

func (*StandardConfig) Kind() CardKind       { return KindStandard }
func (*SpellingConfig) Kind() CardKind       { return KindSpelling }
func (*WordStandardConfig) Kind() CardKind   { return KindWordStandard }
func (*GermanVerbConfig) Kind() CardKind     { return KindGermanVerb }
func (*MultipleChoiceConfig) Kind() CardKind { return KindMultipleChoice }

func (*StandardConfig) isCardConfig()       {}
func (*SpellingConfig) isCardConfig()       {}
func (*WordStandardConfig) isCardConfig()   {}
func (*GermanVerbConfig) isCardConfig()     {}
func (*MultipleChoiceConfig) isCardConfig() {}

// Forms returns the conjugation table keyed by pronoun.
func (c *GermanVerbConfig) Forms() map[string]string {
	return map[string]string{
		"ich":       c.Ich,
		"du":        c.Du,
		"er/sie/es": c.ErSieEs,
		"wir":       c.Wir,
		"ihr":       c.Ihr,
		"sie":       c.Sie,
	}
}

// Pronouns lists the conjugation keys in display order.
var Pronouns = []string{"ich", "du", "er/sie/es", "wir", "ihr", "sie"}

// MarshalCardConfig encodes cfg as a JSON object with a "type" discriminator.
func MarshalCardConfig(cfg CardConfig) ([]byte, error) {
	fields, err := configToMap(cfg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalCardConfig decodes a JSON object carrying a "type" discriminator
// into the matching configuration. Unknown types yield a *ValidationError
// wrapping ErrUnknownCardKind.
func UnmarshalCardConfig(data []byte) (CardConfig, error) {
	var head struct {
		Type *CardKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, NewValidationError("", fmt.Sprintf("is not a valid JSON object: %v", err))
	}
	if head.Type == nil {
		return nil, NewValidationError("type", "is required")
	}

	entry, ok := kinds[*head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", NewValidationError("type", "is not supported"), ErrUnknownCardKind, *head.Type)
	}

	cfg := entry.newConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(cfg); err != nil {
		return nil, NewValidationError("", fmt.Sprintf("does not match type %s: %v", *head.Type, err))
	}
	return cfg, nil
}

// configToMap renders cfg as a generic JSON object including its discriminator.
func configToMap(cfg CardConfig) (map[string]any, error) {
	if cfg == nil {
		return nil, NewValidationError("config", "is required")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode card config: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode card config: %w", err)
	}
	fields["type"] = string(cfg.Kind())
	return fields, nil
}

// mapToConfig is the inverse of configToMap.
func mapToConfig(fields map[string]any) (CardConfig, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode card config: %w", err)
	}
	return UnmarshalCardConfig(raw)
}

// MediaFields returns the media-reference fields of the given kind.
func MediaFields(kind CardKind) []string {
	entry, ok := kinds[kind]
	if !ok {
		return nil
	}
	out := make([]string, len(entry.mediaFields))
	copy(out, entry.mediaFields)
	return out
}

// RewriteMedia returns a copy of cfg in which every non-null media-reference
// field has been replaced by fn(field, value). cfg itself is not modified.
func RewriteMedia(cfg CardConfig, fn func(field, value string) string) (CardConfig, error) {
	fields, err := configToMap(cfg)
	if err != nil {
		return nil, err
	}
	for _, name := range MediaFields(cfg.Kind()) {
		value, ok := fields[name].(string)
		if !ok {
			continue
		}
		fields[name] = fn(name, value)
	}
	return mapToConfig(fields)
}

// MediaRefs returns the non-empty media-reference values of cfg keyed by field.
func MediaRefs(cfg CardConfig) map[string]string {
	refs := make(map[string]string)
	_, _ = RewriteMedia(cfg, func(field, value string) string {
		if value != "" {
			refs[field] = value
		}
		return value
	})
	return refs
}
