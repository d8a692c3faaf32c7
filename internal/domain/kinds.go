package domain

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// kindSpec is the per-kind behaviour of a card configuration.
type kindSpec struct {
	newConfig   func() CardConfig
	complete    func(CardConfig) error
	check       func(CardConfig, Answer) (bool, error)
	mediaFields []string
}

var kinds = map[CardKind]kindSpec{
	KindStandard: {
		newConfig: func() CardConfig { return &StandardConfig{} },
		check:     checkSelfGraded,
	},
	KindSpelling: {
		newConfig:   func() CardConfig { return &SpellingConfig{} },
		check:       checkSpelling,
		mediaFields: []string{FieldVoiceFileURL},
	},
	KindWordStandard: {
		newConfig:   func() CardConfig { return &WordStandardConfig{} },
		check:       checkSelfGraded,
		mediaFields: []string{FieldPronunciationFile},
	},
	KindGermanVerb: {
		newConfig:   func() CardConfig { return &GermanVerbConfig{} },
		check:       checkGermanVerb,
		mediaFields: []string{FieldPronunciationFileURL},
	},
	KindMultipleChoice: {
		newConfig:   func() CardConfig { return &MultipleChoiceConfig{} },
		complete:    completeMultipleChoice,
		check:       checkMultipleChoice,
		mediaFields: []string{FieldImageURL, FieldVoiceFileURL},
	},
}

// Kinds returns every supported card kind.
func Kinds() []CardKind {
	out := make([]CardKind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// IsKnownKind reports whether kind is one of the supported card kinds.
func IsKnownKind(kind CardKind) bool {
	_, ok := kinds[kind]
	return ok
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		// notblank ships with the non-standard validators package
		if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
			panic(fmt.Sprintf("failed to register notblank validation: %v", err))
		}
	})
	return validate
}

// ValidateConfig reports whether cfg holds every field its kind requires.
// The returned error is a *ValidationError naming the JSON field.
func ValidateConfig(cfg CardConfig) error {
	if cfg == nil {
		return NewValidationError("config", "is required")
	}
	entry, ok := kinds[cfg.Kind()]
	if !ok {
		return fmt.Errorf("%w: %w %q", NewValidationError("type", "is not supported"), ErrUnknownCardKind, cfg.Kind())
	}

	if err := configValidator().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldErrorToValidation(fieldErrs[0])
		}
		return NewValidationError("", err.Error())
	}

	if entry.complete != nil {
		return entry.complete(cfg)
	}
	return nil
}

func fieldErrorToValidation(fe validator.FieldError) *ValidationError {
	switch fe.Tag() {
	case "notblank":
		return NewValidationError(fe.Field(), "is required")
	case "min":
		return NewValidationError(fe.Field(), fmt.Sprintf("must have at least %s entries", fe.Param()))
	default:
		return NewValidationError(fe.Field(), fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}

func completeMultipleChoice(cfg CardConfig) error {
	mc := cfg.(*MultipleChoiceConfig)
	answer := strings.TrimSpace(mc.Answer)
	for _, opt := range mc.Options {
		if strings.TrimSpace(opt) == answer {
			return nil
		}
	}
	return NewValidationError("answer", "must match one of the options")
}

// Answer is a learner's response to a presented card. Self-graded kinds
// (standard, word-standard) use Recalled; spelling and multiple-choice use
// Response; German verb cards use Forms keyed by pronoun.
type Answer struct {
	Response string            `json:"response,omitempty"`
	Forms    map[string]string `json:"forms,omitempty"`
	Recalled *bool             `json:"recalled,omitempty"`
}

// CheckAnswer grades ans against cfg.
func CheckAnswer(cfg CardConfig, ans Answer) (bool, error) {
	if cfg == nil {
		return false, NewValidationError("config", "is required")
	}
	entry, ok := kinds[cfg.Kind()]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownCardKind, cfg.Kind())
	}
	return entry.check(cfg, ans)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func checkSelfGraded(_ CardConfig, ans Answer) (bool, error) {
	if ans.Recalled == nil {
		return false, NewValidationError("recalled", "is required for self-graded cards")
	}
	return *ans.Recalled, nil
}

func checkSpelling(cfg CardConfig, ans Answer) (bool, error) {
	c := cfg.(*SpellingConfig)
	return normalize(ans.Response) == normalize(c.Spelling), nil
}

func checkGermanVerb(cfg CardConfig, ans Answer) (bool, error) {
	c := cfg.(*GermanVerbConfig)
	if len(ans.Forms) == 0 {
		return false, NewValidationError("forms", "is required for verb conjugation cards")
	}
	expected := c.Forms()
	for _, pronoun := range Pronouns {
		if normalize(ans.Forms[pronoun]) != normalize(expected[pronoun]) {
			return false, nil
		}
	}
	return true, nil
}

func checkMultipleChoice(cfg CardConfig, ans Answer) (bool, error) {
	c := cfg.(*MultipleChoiceConfig)
	selected := strings.TrimSpace(ans.Response)
	if selected == "" {
		return false, NewValidationError("response", "is required")
	}
	for _, opt := range c.Options {
		if strings.TrimSpace(opt) == selected {
			return selected == strings.TrimSpace(c.Answer), nil
		}
	}
	return false, nil
}
