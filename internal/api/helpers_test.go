package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/api"
	"github.com/phrazzld/leitbox/internal/api/shared"
	"github.com/phrazzld/leitbox/internal/config"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/domain/leitner"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/platform/httpfetch"
	"github.com/phrazzld/leitbox/internal/platform/localfs"
	"github.com/phrazzld/leitbox/internal/service/auth"
	"github.com/phrazzld/leitbox/internal/service/boxes"
	"github.com/phrazzld/leitbox/internal/service/cards"
	"github.com/phrazzld/leitbox/internal/service/review"
	"github.com/phrazzld/leitbox/internal/service/transfer"
	"github.com/phrazzld/leitbox/internal/task"
	"github.com/phrazzld/leitbox/internal/testdb"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

type testServer struct {
	env     *testdb.Env
	handler http.Handler
	jwt     auth.JWTService
	runner  *task.TaskRunner
	broker  *events.Broadcaster
	staging string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	env := testdb.New(t)

	jwtService, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetime: time.Hour})
	require.NoError(t, err)

	broker := events.NewBroadcaster(nil)
	emitter := events.NewInMemoryEventEmitter(nil)
	emitter.RegisterHandler(broker)

	scheduler := leitner.NewDefaultScheduler()
	boxService, err := boxes.NewService(env.DB, env.Boxes, env.Cards, scheduler, emitter, nil)
	require.NoError(t, err)
	cardService, err := cards.NewService(env.Boxes, env.Cards, emitter, nil)
	require.NoError(t, err)
	controller, err := review.NewController(env.Boxes, env.Cards, scheduler, review.NewRegistry(time.Hour), emitter, nil)
	require.NoError(t, err)

	storage, err := localfs.New(t.TempDir(), "http://leitbox.test/media", []byte(testSecret), nil)
	require.NoError(t, err)
	staging := t.TempDir()
	transferService, err := transfer.NewService(
		env.DB, env.Boxes, env.Cards, storage,
		httpfetch.New(5*time.Second, 1<<20, nil),
		emitter,
		transfer.Options{StagingDir: staging, MaxArchiveBytes: 1 << 20},
		nil,
	)
	require.NoError(t, err)

	runner := task.NewTaskRunner(task.NewMemoryStore(), task.TaskRunnerConfig{
		WorkerCount:  1,
		QueueSize:    10,
		JobRetention: time.Hour,
	}, nil)
	runner.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Stop(ctx)
	})

	handler := api.NewRouter(api.RouterDeps{
		JWTService: jwtService,
		Boxes:      boxService,
		Cards:      cardService,
		Review:     controller,
		Jobs:       runner,
		Exporter:   transferService,
		Importer:   transferService,
		Subscriber: broker,
		JobConfig:  api.JobHandlerConfig{StagingDir: staging, MaxUploadBytes: 1 << 20},
		Media:      storage.Handler(api.MediaPrefix),
	})

	return &testServer{
		env:     env,
		handler: handler,
		jwt:     jwtService,
		runner:  runner,
		broker:  broker,
		staging: staging,
	}
}

func (s *testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := s.jwt.GenerateToken(context.Background(), userID)
	require.NoError(t, err)
	return token
}

// do sends a JSON request as userID. A nil userID sends no credentials.
func (s *testServer) do(t *testing.T, method, path string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(b)
		}
		reader = bytes.NewBufferString(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req, userID)
}

func (s *testServer) send(t *testing.T, req *http.Request, userID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createBox(t *testing.T, userID uuid.UUID, name string, limit int) *domain.Box {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/boxes", userID, api.CreateBoxRequest{Name: name, DailyNewCardLimit: limit})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*domain.Box](t, rec)
}

func (s *testServer) createCard(t *testing.T, userID, boxID uuid.UUID, config string) *domain.Card {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/boxes/"+boxID.String()+"/cards", userID, `{"config":`+config+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*domain.Card](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	return decode[shared.ErrorResponse](t, rec)
}
