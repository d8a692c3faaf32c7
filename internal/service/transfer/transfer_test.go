package transfer_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/phrazzld/leitbox/internal/archive"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/platform/httpfetch"
	"github.com/phrazzld/leitbox/internal/platform/localfs"
	"github.com/phrazzld/leitbox/internal/service/transfer"
	"github.com/phrazzld/leitbox/internal/store"
	"github.com/phrazzld/leitbox/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaBaseURL = "http://media.test/media"

type recordingHandler struct {
	events []*events.BoxChanged
}

func (h *recordingHandler) HandleEvent(_ context.Context, e *events.BoxChanged) error {
	h.events = append(h.events, e)
	return nil
}

type fixture struct {
	env      *testdb.Env
	storage  *localfs.Storage
	mediaDir string
	svc      *transfer.Service
	recorder *recordingHandler
	remote   *httptest.Server
}

func newFixture(t *testing.T, wrap func(store.BoxStore) store.BoxStore) *fixture {
	t.Helper()
	env := testdb.New(t)
	var boxes store.BoxStore = env.Boxes
	if wrap != nil {
		boxes = wrap(env.Boxes)
	}

	mediaDir := t.TempDir()
	storage, err := localfs.New(mediaDir, mediaBaseURL, []byte("0123456789abcdef0123456789abcdef"), nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/audio/hund.mp3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hund audio"))
	})
	mux.HandleFunc("/audio/katze.mp3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("katze audio"))
	})
	remote := httptest.NewServer(mux)
	t.Cleanup(remote.Close)

	emitter := events.NewInMemoryEventEmitter(nil)
	recorder := &recordingHandler{}
	emitter.RegisterHandler(recorder)

	svc, err := transfer.NewService(
		env.DB, boxes, env.Cards, storage,
		httpfetch.NewWithClient(remote.Client(), 1<<20, nil),
		emitter,
		transfer.Options{StagingDir: t.TempDir(), MaxArchiveBytes: 1 << 20},
		nil,
	)
	require.NoError(t, err)

	return &fixture{env: env, storage: storage, mediaDir: mediaDir, svc: svc, recorder: recorder, remote: remote}
}

func (f *fixture) box(t *testing.T, userID uuid.UUID, cfgs ...domain.CardConfig) *domain.Box {
	t.Helper()
	ctx := context.Background()
	box, err := domain.NewBox(userID, "German", 5)
	require.NoError(t, err)
	require.NoError(t, f.env.Boxes.Create(ctx, box))

	now := time.Now()
	for i, cfg := range cfgs {
		card, err := domain.NewCard(userID, box.ID, cfg, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		card.Level = 4
		require.NoError(t, f.env.Cards.Create(ctx, card))
	}
	return box
}

// uploadedObjects lists the object keys below media/.
func (f *fixture) uploadedObjects(t *testing.T) []string {
	t.Helper()
	var keys []string
	root := filepath.Join(f.mediaDir, "media")
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(f.mediaDir, p)
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return keys
}

func strPtr(s string) *string { return &s }

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := uuid.New()

	box := f.box(t, owner,
		&domain.StandardConfig{Front: "der Hund", Back: "the dog"},
		&domain.SpellingConfig{Spelling: "Hund", VoiceFileURL: f.remote.URL + "/audio/hund.mp3"},
		&domain.WordStandardConfig{Word: "Katze", PartOfSpeech: "noun", Back: "cat", PronunciationFile: f.remote.URL + "/audio/katze.mp3"},
		&domain.MultipleChoiceConfig{
			Question: "Welches Tier bellt?",
			Options:  []string{"Hund", "Katze"},
			Answer:   "Hund",
			ImageURL: strPtr(f.remote.URL + "/images/missing.png"),
		},
		&domain.GermanVerbConfig{Verb: "sein", Ich: "bin", Du: "bist", ErSieEs: "ist", Wir: "sind", Ihr: "seid", Sie: "sind"},
	)

	result, err := f.svc.Export(ctx, owner, box.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Cards)
	assert.Equal(t, 2, result.MediaLocalized)
	assert.Equal(t, 1, result.MediaFailed)
	assert.True(t, strings.HasPrefix(result.Key, "exports/"+owner.String()+"/"+box.ID.String()+"-"))
	assert.True(t, strings.HasPrefix(result.URL, mediaBaseURL+"/exports/"))
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), result.ExpiresAt, time.Minute)

	rc, err := f.storage.Open(ctx, result.Key)
	require.NoError(t, err)
	exported, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	// Inspect the manifest inside the archive
	zr, err := zip.NewReader(bytes.NewReader(exported), int64(len(exported)))
	require.NoError(t, err)
	entries := map[string]*zip.File{}
	for _, zf := range zr.File {
		entries[zf.Name] = zf
	}
	require.Contains(t, entries, "cards.json")
	require.Contains(t, entries, "data/hund.mp3")
	require.Contains(t, entries, "data/katze.mp3")

	mr, err := entries["cards.json"].Open()
	require.NoError(t, err)
	manifest, err := archive.DecodeManifest(mr)
	require.NoError(t, err)
	require.Len(t, manifest.Cards, 5)
	assert.JSONEq(t, `{"type":"spelling","spelling":"Hund","voice_file_url":"@data/hund.mp3"}`, string(manifest.Cards[1].Config))
	assert.Contains(t, string(manifest.Cards[3].Config), f.remote.URL+"/images/missing.png")
	assert.NotContains(t, string(manifest.Cards[0].Config), "level")

	// Import into a fresh box for another user
	importer := uuid.New()
	newBoxID, err := f.svc.Import(ctx, bytes.NewReader(exported), "German copy", importer)
	require.NoError(t, err)

	imported, err := f.env.Boxes.GetByID(ctx, newBoxID)
	require.NoError(t, err)
	assert.Equal(t, "German copy", imported.Name)
	assert.Equal(t, importer, imported.UserID)

	cards, err := f.env.Cards.QueryInBox(ctx, newBoxID, importer, store.CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 5)
	for _, c := range cards {
		assert.Equal(t, 0, c.Level)
		assert.False(t, c.Finished)
		assert.WithinDuration(t, time.Now(), c.NextReviewTime, time.Minute)
	}

	kinds := map[domain.CardKind]domain.CardConfig{}
	for _, c := range cards {
		kinds[c.Config.Kind()] = c.Config
	}
	spelling := kinds[domain.KindSpelling].(*domain.SpellingConfig)
	assert.True(t, strings.HasPrefix(spelling.VoiceFileURL, mediaBaseURL+"/media/"+importer.String()+"/"), spelling.VoiceFileURL)
	mc := kinds[domain.KindMultipleChoice].(*domain.MultipleChoiceConfig)
	require.NotNil(t, mc.ImageURL)
	assert.Equal(t, f.remote.URL+"/images/missing.png", *mc.ImageURL)

	assert.Len(t, f.uploadedObjects(t), 2)

	require.Len(t, f.recorder.events, 1)
	assert.Equal(t, events.ReasonBoxImported, f.recorder.events[0].Reason)
	assert.Equal(t, newBoxID, f.recorder.events[0].BoxID)
}

func TestExportAuthorization(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	box := f.box(t, uuid.New(), &domain.StandardConfig{Front: "a", Back: "b"})

	_, err := f.svc.Export(ctx, uuid.New(), box.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = f.svc.Export(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrBoxNotFound)

	var svcErr *transfer.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "export", svcErr.Operation)
}

func TestExportEmptyBox(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	owner := uuid.New()
	box := f.box(t, owner)

	result, err := f.svc.Export(context.Background(), owner, box.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Cards)
}

func TestImportNestedFolder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	userID := uuid.New()

	data := zipBytes(t, map[string]string{
		"export/cards.json": `{"version":"1.0","cards":[
			{"config":{"type":"spelling","spelling":"Baum","voice_file_url":"@data/baum.mp3"}},
			{"config":{"type":"spelling","spelling":"Bäume","voice_file_url":" @data/baum.mp3 "}}
		]}`,
		"export/data/baum.mp3":         "baum audio",
		"__MACOSX/export/._cards.json": "resource fork",
	})

	boxID, err := f.svc.Import(ctx, bytes.NewReader(data), "Trees", userID)
	require.NoError(t, err)

	cards, err := f.env.Cards.QueryInBox(ctx, boxID, userID, store.CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	first := cards[0].Config.(*domain.SpellingConfig).VoiceFileURL
	second := cards[1].Config.(*domain.SpellingConfig).VoiceFileURL
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second, "a shared media file is uploaded once")
	assert.Len(t, f.uploadedObjects(t), 1)
}

func TestImportMissingMediaBecomesEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	userID := uuid.New()

	data := zipBytes(t, map[string]string{
		"cards.json": `{"version":"1.0","cards":[
			{"config":{"type":"word-standard","word":"Haus","part_of_speech":"noun","back":"house","pronunciation_file":"@data/haus.mp3"}}
		]}`,
	})

	boxID, err := f.svc.Import(ctx, bytes.NewReader(data), "Houses", userID)
	require.NoError(t, err)

	cards, err := f.env.Cards.QueryInBox(ctx, boxID, userID, store.CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "", cards[0].Config.(*domain.WordStandardConfig).PronunciationFile)
}

func TestImportValidationIsFatal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		entries   map[string]string
		wantField string
	}{
		{
			name:    "missing manifest",
			entries: map[string]string{"data/a.mp3": "x"},
		},
		{
			name:    "unsupported version",
			entries: map[string]string{"cards.json": `{"version":"0.9","cards":[]}`},
		},
		{
			name: "incomplete card",
			entries: map[string]string{"cards.json": `{"version":"1.0","cards":[
				{"config":{"type":"standard","front":"a","back":"b"}},
				{"config":{"type":"standard","front":"a","back":"   "}}
			]}`},
			wantField: "cards[1].config.back",
		},
		{
			name: "unknown card type",
			entries: map[string]string{"cards.json": `{"version":"1.0","cards":[
				{"config":{"type":"cloze","text":"a"}}
			]}`},
			wantField: "cards[0].config.type",
		},
		{
			name: "missing config",
			entries: map[string]string{"cards.json": `{"version":"1.0","cards":[
				{"config":{"type":"standard","front":"a","back":"b"}},
				{"config":{"type":"standard","front":"a","back":"b"}},
				{}
			]}`},
			wantField: "cards[2].config",
		},
		{
			name: "multiple choice answer outside options",
			entries: map[string]string{"cards.json": `{"version":"1.0","cards":[
				{"config":{"type":"multiple-choice","question":"q","options":["a","b"],"answer":"c"}}
			]}`},
			wantField: "cards[0].config.answer",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			userID := uuid.New()

			entries := tc.entries
			entries["data/a.mp3"] = "audio"
			_, err := f.svc.Import(context.Background(), bytes.NewReader(zipBytes(t, entries)), "Broken", userID)
			require.Error(t, err)
			assert.ErrorIs(t, err, archive.ErrInvalidArchive)

			if tc.wantField != "" {
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tc.wantField, verr.Field)
				assert.ErrorIs(t, err, domain.ErrValidation)
			}

			boxes, err := f.env.Boxes.ListByUser(context.Background(), userID)
			require.NoError(t, err)
			assert.Empty(t, boxes, "nothing is written for an invalid archive")
			assert.Empty(t, f.uploadedObjects(t))
		})
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Import(ctx, strings.NewReader("not a zip"), "Box", uuid.New())
	assert.ErrorIs(t, err, archive.ErrInvalidArchive)

	_, err = f.svc.Import(ctx, bytes.NewReader(zipBytes(t, map[string]string{"cards.json": `{"version":"1.0","cards":[]}`})), "  ", uuid.New())
	assert.ErrorIs(t, err, domain.ErrBoxNameInvalid)

	huge := zipBytes(t, map[string]string{
		"cards.json":   `{"version":"1.0","cards":[]}`,
		"data/big.bin": strings.Repeat("0123456789", 200_000),
	})
	_, err = f.svc.Import(ctx, bytes.NewReader(huge), "Huge", uuid.New())
	assert.ErrorIs(t, err, archive.ErrInvalidArchive)
}

// failingBoxStore fails every Create, inside or outside a transaction.
type failingBoxStore struct {
	store.BoxStore
}

func (s failingBoxStore) Create(context.Context, *domain.Box) error {
	return store.ErrTransactionFailed
}

func (s failingBoxStore) WithTx(tx *sql.Tx) store.BoxStore {
	return failingBoxStore{BoxStore: s.BoxStore.WithTx(tx)}
}

func TestImportRemovesUploadsWhenSaveFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(boxes store.BoxStore) store.BoxStore {
		return failingBoxStore{BoxStore: boxes}
	})
	userID := uuid.New()

	data := zipBytes(t, map[string]string{
		"cards.json": `{"version":"1.0","cards":[
			{"config":{"type":"spelling","spelling":"Baum","voice_file_url":"@data/baum.mp3"}}
		]}`,
		"data/baum.mp3": "baum audio",
	})

	_, err := f.svc.Import(context.Background(), bytes.NewReader(data), "Trees", userID)
	assert.ErrorIs(t, err, store.ErrTransactionFailed)
	assert.Empty(t, f.uploadedObjects(t), "uploaded media is deleted when the box cannot be saved")
	assert.Empty(t, f.recorder.events)
}

func TestStagingIsRemoved(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	stagingDir := t.TempDir()
	owner := uuid.New()
	box := f.box(t, owner, &domain.SpellingConfig{Spelling: "Hund", VoiceFileURL: f.remote.URL + "/audio/hund.mp3"})

	svc, err := transfer.NewService(
		f.env.DB, f.env.Boxes, f.env.Cards, f.storage,
		httpfetch.NewWithClient(f.remote.Client(), 0, nil), nil,
		transfer.Options{StagingDir: stagingDir, MaxArchiveBytes: 1 << 20}, nil,
	)
	require.NoError(t, err)

	_, err = svc.Export(context.Background(), owner, box.ID)
	require.NoError(t, err)
	_, err = svc.Import(context.Background(), strings.NewReader("garbage"), "x", owner)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Export(ctx, owner, box.ID)
	require.Error(t, err)

	left, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	t.Parallel()
	_, err := transfer.NewService(nil, nil, nil, nil, nil, nil, transfer.Options{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
