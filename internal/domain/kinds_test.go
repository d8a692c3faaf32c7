package domain_test

import (
	"errors"
	"testing"

	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		cfg       domain.CardConfig
		wantField string
	}{
		{
			name: "complete standard",
			cfg:  &domain.StandardConfig{Front: "Hund", Back: "dog"},
		},
		{
			name:      "standard with blank back",
			cfg:       &domain.StandardConfig{Front: "Hund", Back: "   "},
			wantField: "back",
		},
		{
			name:      "spelling without audio",
			cfg:       &domain.SpellingConfig{Spelling: "necessary"},
			wantField: "voice_file_url",
		},
		{
			name:      "word-standard without part of speech",
			cfg:       &domain.WordStandardConfig{Word: "laufen", Back: "to run", PronunciationFile: "https://x/a.mp3"},
			wantField: "part_of_speech",
		},
		{
			name: "german verb without pronunciation is complete",
			cfg: &domain.GermanVerbConfig{
				Verb: "sein", Ich: "bin", Du: "bist", ErSieEs: "ist", Wir: "sind", Ihr: "seid", Sie: "sind",
			},
		},
		{
			name: "german verb missing a form",
			cfg: &domain.GermanVerbConfig{
				Verb: "sein", Ich: "bin", Du: "bist", ErSieEs: "", Wir: "sind", Ihr: "seid", Sie: "sind",
			},
			wantField: "er/sie/es",
		},
		{
			name:      "multiple choice with one option",
			cfg:       &domain.MultipleChoiceConfig{Question: "2+2?", Options: []string{"4"}, Answer: "4"},
			wantField: "options",
		},
		{
			name:      "multiple choice with blank option",
			cfg:       &domain.MultipleChoiceConfig{Question: "2+2?", Options: []string{"4", " "}, Answer: "4"},
			wantField: "options[1]",
		},
		{
			name:      "multiple choice answer not in options",
			cfg:       &domain.MultipleChoiceConfig{Question: "2+2?", Options: []string{"3", "5"}, Answer: "4"},
			wantField: "answer",
		},
		{
			name: "complete multiple choice",
			cfg:  &domain.MultipleChoiceConfig{Question: "2+2?", Options: []string{"3", "4"}, Answer: "4"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := domain.ValidateConfig(tc.cfg)
			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.wantField, ve.Field)
		})
	}
}

func TestCheckAnswer(t *testing.T) {
	t.Parallel()

	verb := &domain.GermanVerbConfig{
		Verb: "haben", Ich: "habe", Du: "hast", ErSieEs: "hat", Wir: "haben", Ihr: "habt", Sie: "haben",
	}
	mc := &domain.MultipleChoiceConfig{Question: "Capital of France?", Options: []string{"Paris", "Rome"}, Answer: "Paris"}

	testCases := []struct {
		name    string
		cfg     domain.CardConfig
		answer  domain.Answer
		want    bool
		wantErr bool
	}{
		{"standard recalled", &domain.StandardConfig{Front: "a", Back: "b"}, domain.Answer{Recalled: boolPtr(true)}, true, false},
		{"standard forgotten", &domain.StandardConfig{Front: "a", Back: "b"}, domain.Answer{Recalled: boolPtr(false)}, false, false},
		{"standard without grade", &domain.StandardConfig{Front: "a", Back: "b"}, domain.Answer{}, false, true},
		{"spelling ignores case and whitespace", &domain.SpellingConfig{Spelling: "Necessary", VoiceFileURL: "x"}, domain.Answer{Response: "  necessary "}, true, false},
		{"spelling mismatch", &domain.SpellingConfig{Spelling: "necessary", VoiceFileURL: "x"}, domain.Answer{Response: "neccessary"}, false, false},
		{
			"verb all forms",
			verb,
			domain.Answer{Forms: map[string]string{"ich": "Habe", "du": "hast", "er/sie/es": "hat ", "wir": "haben", "ihr": "habt", "sie": "haben"}},
			true, false,
		},
		{
			"verb one wrong form",
			verb,
			domain.Answer{Forms: map[string]string{"ich": "habe", "du": "habst", "er/sie/es": "hat", "wir": "haben", "ihr": "habt", "sie": "haben"}},
			false, false,
		},
		{"verb without forms", verb, domain.Answer{}, false, true},
		{"multiple choice correct", mc, domain.Answer{Response: " Paris"}, true, false},
		{"multiple choice wrong option", mc, domain.Answer{Response: "Rome"}, false, false},
		{"multiple choice outside options", mc, domain.Answer{Response: "paris"}, false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := domain.CheckAnswer(tc.cfg, tc.answer)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMediaFields(t *testing.T) {
	t.Parallel()

	assert.Empty(t, domain.MediaFields(domain.KindStandard))
	assert.Equal(t, []string{"voice_file_url"}, domain.MediaFields(domain.KindSpelling))
	assert.Equal(t, []string{"pronunciation_file"}, domain.MediaFields(domain.KindWordStandard))
	assert.Equal(t, []string{"pronunciation_file_url"}, domain.MediaFields(domain.KindGermanVerb))
	assert.ElementsMatch(t, []string{"image_url", "voice_file_url"}, domain.MediaFields(domain.KindMultipleChoice))
	assert.Nil(t, domain.MediaFields("flash"))
}
