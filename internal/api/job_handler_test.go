package api_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobView struct {
	ID     uuid.UUID      `json:"id"`
	Type   string         `json:"type"`
	Status task.Status    `json:"status"`
	Error  string         `json:"error"`
	Result map[string]any `json:"result"`
}

func (s *testServer) waitForJob(t *testing.T, userID, jobID uuid.UUID) jobView {
	t.Helper()
	var job jobView
	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/jobs/"+jobID.String(), userID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		job = decode[jobView](t, rec)
		return job.Status.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func archiveBytes(t *testing.T, manifest string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("cards.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(manifest))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func importRequest(t *testing.T, boxName string, archive []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if boxName != "" {
		require.NoError(t, mw.WriteField("box_name", boxName))
	}
	if archive != nil {
		fw, err := mw.CreateFormFile("file", "deck.zip")
		require.NoError(t, err)
		_, err = fw.Write(archive)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestExportJob(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	userID := uuid.New()
	box := srv.createBox(t, userID, "Deutsch", 0)
	srv.createCard(t, userID, box.ID, `{"type":"standard","front":"der Hund","back":"the dog"}`)

	rec := srv.do(t, http.MethodPost, "/api/boxes/"+box.ID.String()+"/export", uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "ownership is checked before queueing")

	rec = srv.do(t, http.MethodPost, "/api/boxes/"+box.ID.String()+"/export", userID, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	submitted := decode[jobView](t, rec)
	assert.Equal(t, task.TypeExport, submitted.Type)
	assert.Equal(t, "/api/jobs/"+submitted.ID.String(), rec.Header().Get("Location"))

	job := srv.waitForJob(t, userID, submitted.ID)
	require.Equal(t, task.StatusCompleted, job.Status, job.Error)
	assert.EqualValues(t, 1, job.Result["cards"])
	url, _ := job.Result["url"].(string)
	assert.True(t, strings.HasPrefix(url, "http://leitbox.test/media/exports/"), url)

	rec = srv.do(t, http.MethodGet, "/api/jobs/"+submitted.ID.String(), uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "jobs are private to their submitter")

	rec = srv.do(t, http.MethodDelete, "/api/jobs/"+submitted.ID.String(), userID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestImportJob(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	userID := uuid.New()

	archive := archiveBytes(t, `{"version":"1.0","cards":[
		{"config":{"type":"standard","front":"der Hund","back":"the dog"}},
		{"config":{"type":"spelling","spelling":"Katze","voice_file_url":"@data/katze.mp3"}}
	]}`)
	rec := srv.send(t, importRequest(t, "Imported", archive), userID)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	submitted := decode[jobView](t, rec)
	assert.Equal(t, task.TypeImport, submitted.Type)

	job := srv.waitForJob(t, userID, submitted.ID)
	require.Equal(t, task.StatusCompleted, job.Status, job.Error)
	boxID, err := uuid.Parse(job.Result["box_id"].(string))
	require.NoError(t, err)

	rec = srv.do(t, http.MethodGet, "/api/boxes/"+boxID.String()+"/cards", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cards := decode[[]*domain.Card](t, rec)
	require.Len(t, cards, 2)
	var spelling *domain.SpellingConfig
	for _, c := range cards {
		assert.Equal(t, 0, c.Level)
		if cfg, ok := c.Config.(*domain.SpellingConfig); ok {
			spelling = cfg
		}
	}
	require.NotNil(t, spelling)
	assert.Empty(t, spelling.VoiceFileURL, "missing media becomes empty")
}

func TestImportJobReportsInvalidArchive(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	userID := uuid.New()

	archive := archiveBytes(t, `{"version":"1.0","cards":[{"config":{"type":"standard","front":"a"}}]}`)
	rec := srv.send(t, importRequest(t, "Broken", archive), userID)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job := srv.waitForJob(t, userID, decode[jobView](t, rec).ID)
	assert.Equal(t, task.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "cards[0].config.back")

	rec = srv.do(t, http.MethodGet, "/api/boxes", userID, nil)
	assert.Empty(t, decode[[]*domain.Box](t, rec), "no box is created")
}

func TestImportRejectsBadUploads(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	userID := uuid.New()
	archive := archiveBytes(t, `{"version":"1.0","cards":[]}`)

	testCases := []struct {
		name  string
		req   *http.Request
		field string
	}{
		{"missing file", importRequest(t, "Deck", nil), "file"},
		{"missing box name", importRequest(t, "", archive), "box_name"},
		{"too long box name", importRequest(t, strings.Repeat("x", domain.MaxBoxNameLength+1), archive), "box_name"},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader("{}")), "body"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.send(t, tc.req, userID)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tc.field, decodeError(t, rec).Field)
		})
	}
}

func TestImportRemovesRejectedUpload(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	userID := uuid.New()

	req := importRequest(t, "", archiveBytes(t, `{"version":"1.0","cards":[]}`))
	rec := srv.send(t, req, userID)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err := os.ReadDir(srv.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
