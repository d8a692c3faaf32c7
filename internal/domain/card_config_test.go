package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalCardConfig(t *testing.T) {
	t.Parallel()

	t.Run("dispatches on type", func(t *testing.T) {
		t.Parallel()
		cfg, err := domain.UnmarshalCardConfig([]byte(`{"type":"german-verb-conjugator","verb":"sein","pronunciation_file_url":null,"ich":"bin","du":"bist","er/sie/es":"ist","wir":"sind","ihr":"seid","sie":"sind"}`))
		require.NoError(t, err)
		verb, ok := cfg.(*domain.GermanVerbConfig)
		require.True(t, ok)
		assert.Equal(t, "ist", verb.ErSieEs)
		assert.Nil(t, verb.PronunciationFileURL)
	})

	t.Run("missing type", func(t *testing.T) {
		t.Parallel()
		_, err := domain.UnmarshalCardConfig([]byte(`{"front":"a","back":"b"}`))
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "type", ve.Field)
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()
		_, err := domain.UnmarshalCardConfig([]byte(`{"type":"cloze","text":"a"}`))
		assert.ErrorIs(t, err, domain.ErrUnknownCardKind)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("not an object", func(t *testing.T) {
		t.Parallel()
		_, err := domain.UnmarshalCardConfig([]byte(`[1,2]`))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestMarshalCardConfigKeepsNullableFields(t *testing.T) {
	t.Parallel()

	raw, err := domain.MarshalCardConfig(&domain.MultipleChoiceConfig{
		Question: "q", Options: []string{"a", "b"}, Answer: "a", ImageURL: strPtr("https://cdn/x.png"),
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "multiple-choice", fields["type"])
	assert.Equal(t, "https://cdn/x.png", fields["image_url"])
	v, present := fields["voice_file_url"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestRewriteMedia(t *testing.T) {
	t.Parallel()

	original := &domain.MultipleChoiceConfig{
		Question: "q", Options: []string{"a", "b"}, Answer: "a",
		ImageURL: strPtr("https://cdn/x.png"),
	}
	var seen []string
	rewritten, err := domain.RewriteMedia(original, func(field, value string) string {
		seen = append(seen, field)
		return "@data/x.png"
	})
	require.NoError(t, err)

	mc := rewritten.(*domain.MultipleChoiceConfig)
	require.NotNil(t, mc.ImageURL)
	assert.Equal(t, "@data/x.png", *mc.ImageURL)
	assert.Nil(t, mc.VoiceFileURL, "null media fields stay null")
	assert.Equal(t, []string{"image_url"}, seen)
	assert.Equal(t, "https://cdn/x.png", *original.ImageURL, "input must not be modified")
}

func TestMediaRefs(t *testing.T) {
	t.Parallel()

	refs := domain.MediaRefs(&domain.SpellingConfig{Spelling: "x", VoiceFileURL: "@data/x.mp3"})
	assert.Equal(t, map[string]string{"voice_file_url": "@data/x.mp3"}, refs)
	assert.Empty(t, domain.MediaRefs(&domain.StandardConfig{Front: "a", Back: "b"}))
}

func TestCardJSONRoundTrip(t *testing.T) {
	t.Parallel()

	card, err := domain.NewCard(uuid.New(), uuid.New(), &domain.SpellingConfig{Spelling: "x", VoiceFileURL: "y"}, time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(card)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"spelling"`)

	var decoded domain.Card
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, card.ID, decoded.ID)
	assert.Equal(t, card.Config, decoded.Config)
}

func TestCardJSONRetiredReviewTime(t *testing.T) {
	t.Parallel()

	card, err := domain.NewCard(uuid.New(), uuid.New(), &domain.StandardConfig{Front: "der Hund", Back: "the dog"}, time.Now())
	require.NoError(t, err)
	card.Level = domain.MaxLevel
	card.NextReviewTime = time.Now().AddDate(0, 0, 1_000_000_000/24).Add(1_000_000_000 % 24 * time.Hour)

	raw, err := json.Marshal(card)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Nil(t, fields["next_review_time"])
	assert.Equal(t, true, fields["retired"])

	var decoded domain.Card
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, domain.RetiredReviewTime, decoded.NextReviewTime)
	assert.False(t, decoded.IsDue(time.Now()))

	card.NextReviewTime = time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, err = json.Marshal(card)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"next_review_time":"2030-05-01T12:00:00Z","retired":false`)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, card.NextReviewTime.Equal(decoded.NextReviewTime))
}
