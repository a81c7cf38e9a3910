package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/counter"
	"github.com/dmitrijs2005/wagate/internal/dispatch"
	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/notify"
	"github.com/dmitrijs2005/wagate/internal/publicid"
	"github.com/dmitrijs2005/wagate/internal/queue"
	"github.com/dmitrijs2005/wagate/internal/server/auth"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wagate/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "secret"
	testUser     = "user-1"
	otherUser    = "user-2"
	connectedID  = "6f1c2a3b-4d5e-4f60-8a7b-9c0d1e2f3a4b"
	idleID       = "0a1b2c3d-4e5f-4061-8273-94a5b6c7d8e9"
	connectedKey = "key-connected"
)

type fakeSessions struct {
	mu      sync.Mutex
	live    map[string]bool
	created []session.CreateOptions
	deleted []string
	result  *session.Result
	err     error
}

func (f *fakeSessions) SessionExists(deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[deviceID]
}

func (f *fakeSessions) CreateSession(ctx context.Context, opts session.CreateOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, opts)
	if f.result != nil {
		opts.Pending.Resolve(*f.result)
	}
	return nil
}

func (f *fakeSessions) DeleteSession(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[deviceID] {
		return common.ErrSessionNotFound
	}
	delete(f.live, deviceID)
	f.deleted = append(f.deleted, deviceID)
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	jobs  []queue.Payload
	delay time.Duration
}

func (q *fakeQueue) Enqueue(ctx context.Context, p queue.Payload, opts ...queue.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, p)
	return "job-1", nil
}

func (q *fakeQueue) EnqueueBulk(ctx context.Context, payloads []queue.Payload, step time.Duration) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, payloads...)
	q.delay = step
	ids := make([]string, len(payloads))
	for i := range payloads {
		ids[i] = "bulk-" + string(rune('a'+i))
	}
	return ids, nil
}

type fixture struct {
	router   *gin.Engine
	deps     Deps
	sessions *fakeSessions
	queue    *fakeQueue
	mail     *fakeQueue
	ids      *publicid.Codec
	repos    *repomanager.InMemoryRepositoryManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ids, err := publicid.New("test-salt", 0)
	require.NoError(t, err)

	repos := repomanager.NewInMemoryRepositoryManager()
	repos.DevicesRepo.Add(models.Device{ID: connectedID, UserID: testUser, Name: "Sales", PhoneNumber: "15550001", APIKey: connectedKey, Status: models.DeviceConnected}, "owner@example.com")
	repos.DevicesRepo.Add(models.Device{ID: idleID, UserID: testUser, Name: "Support", PhoneNumber: "15550002", APIKey: "key-idle", Status: models.DeviceDisconnected}, "owner@example.com")

	f := &fixture{
		sessions: &fakeSessions{live: map[string]bool{connectedID: true}},
		queue:    &fakeQueue{},
		mail:     &fakeQueue{},
		ids:      ids,
		repos:    repos,
	}
	logger := logging.NewDiscardLogger()
	f.deps = Deps{
		Repos:     repos,
		Sessions:  f.sessions,
		Direct:    f.queue,
		Bulk:      f.queue,
		Hub:       notify.New(ids.Encode, logger),
		OTP:       dispatch.NewOTP(counter.NewMemory(), f.mail),
		IDs:       ids,
		SecretKey: []byte(testSecret),
		AuthWait:  time.Second,
		BulkDelay: 2500 * time.Millisecond,
		Logger:    logger,
	}
	f.router = NewRouter(f.deps)
	return f
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func bearer(t *testing.T, userID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token(t, userID)}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w, env := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Status)
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Status)

	w, _ = f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": "x"}, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeviceAuth(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		w, env := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{}, bearer(t, testUser))
		assert.Equal(t, 422, w.Code)
		assert.Equal(t, "Validation errors occurred.", env.Message)
	})

	t.Run("device of another user", func(t *testing.T) {
		f := newFixture(t)
		w, _ := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": f.ids.Encode(idleID)}, bearer(t, otherUser))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("already connected", func(t *testing.T) {
		f := newFixture(t)
		w, env := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": f.ids.Encode(connectedID)}, bearer(t, testUser))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "The account already connected!", env.Message)
		assert.Empty(t, f.sessions.created)
	})

	t.Run("challenge", func(t *testing.T) {
		f := newFixture(t)
		f.sessions.result = &session.Result{OK: true, Code: http.StatusOK, Message: "Generate QR Code Successful!", Data: map[string]any{"image_qrcode": "data:image/png;base64,AA=="}}

		w, env := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": f.ids.Encode(idleID), "use_number": true}, bearer(t, testUser))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Status)
		assert.Equal(t, map[string]any{"image_qrcode": "data:image/png;base64,AA=="}, env.Data)

		require.Len(t, f.sessions.created, 1)
		opts := f.sessions.created[0]
		assert.Equal(t, idleID, opts.DeviceID)
		assert.True(t, opts.UsePairingCode)
		assert.Equal(t, "15550002", opts.PhoneNumber)
	})

	t.Run("failure is passed through", func(t *testing.T) {
		f := newFixture(t)
		f.sessions.result = &session.Result{Code: http.StatusBadGateway, Message: "Failed to connect device"}

		w, env := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": f.ids.Encode(idleID)}, bearer(t, testUser))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.False(t, env.Status)
		assert.Equal(t, "Failed to connect device", env.Message)
	})

	t.Run("no answer in time", func(t *testing.T) {
		f := newFixture(t)
		f.deps.AuthWait = 20 * time.Millisecond
		f.router = NewRouter(f.deps)

		w, _ := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": f.ids.Encode(idleID)}, bearer(t, testUser))
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})

	t.Run("shutting down", func(t *testing.T) {
		f := newFixture(t)
		f.sessions.err = session.ErrManagerClosed

		w, _ := f.do(t, http.MethodPost, "/v1/device/auth", gin.H{"id_device": f.ids.Encode(idleID)}, bearer(t, testUser))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestDeviceLogout(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodDelete, "/v1/device/logout/"+f.ids.Encode(idleID), nil, bearer(t, testUser))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "The account not connected!", env.Message)

	w, env = f.do(t, http.MethodDelete, "/v1/device/logout/"+f.ids.Encode(connectedID), nil, bearer(t, testUser))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "The device has been logged out!", env.Message)
	assert.Equal(t, []string{connectedID}, f.sessions.deleted)

	w, _ = f.do(t, http.MethodDelete, "/v1/device/logout/not-a-hash", nil, bearer(t, testUser))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeviceRemoval(t *testing.T) {
	f := newFixture(t)
	path := "/v1/device/remove/" + f.ids.Encode(connectedID)

	w, env := f.do(t, http.MethodPost, path, nil, bearer(t, testUser))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"email": "owner@example.com"}, env.Data)
	require.Len(t, f.mail.jobs, 1)
	mail := f.mail.jobs[0].(queue.EmailOTP)
	assert.Equal(t, "owner@example.com", mail.To)
	assert.Equal(t, queue.OTPRemoveDevice, mail.Purpose)

	w, _ = f.do(t, http.MethodDelete, path, gin.H{"otp": "12"}, bearer(t, testUser))
	assert.Equal(t, 422, w.Code)

	wrong := "000000"
	if mail.Code == wrong {
		wrong = "111111"
	}
	w, env = f.do(t, http.MethodDelete, path, gin.H{"otp": wrong}, bearer(t, testUser))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid OTP entered!", env.Message)
	assert.Empty(t, f.sessions.deleted)

	w, env = f.do(t, http.MethodDelete, path, gin.H{"otp": mail.Code}, bearer(t, testUser))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"phone_number": "15550001", "name": "Sales"}, env.Data)
	assert.Equal(t, []string{connectedID}, f.sessions.deleted)

	w, _ = f.do(t, http.MethodDelete, path, gin.H{"otp": mail.Code}, bearer(t, testUser))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a code is consumed on use")

	w, _ = f.do(t, http.MethodPost, "/v1/device/remove/"+f.ids.Encode(idleID), nil, bearer(t, otherUser))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendWeb(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/v1/whatsapp/send-web", gin.H{"id_device": f.ids.Encode(idleID), "to_number": "15550009", "message": "hi"}, bearer(t, testUser))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.queue.jobs)

	w, _ = f.do(t, http.MethodPost, "/v1/whatsapp/send-web", gin.H{"id_device": f.ids.Encode(connectedID), "to_number": "not a number", "message": "hi"}, bearer(t, testUser))
	assert.Equal(t, 422, w.Code)

	w, env := f.do(t, http.MethodPost, "/v1/whatsapp/send-web", gin.H{"id_device": f.ids.Encode(connectedID), "to_number": "15550009", "message": "hi"}, bearer(t, testUser))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Successful send message!", env.Message)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, queue.DirectSend{DeviceID: connectedID, UserID: testUser, To: "15550009", Message: "hi", UseWeb: true}, f.queue.jobs[0])
}

func TestSendAPI(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodPost, "/v1/whatsapp/send-api", gin.H{"to_number": "15550009", "message": "hi"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Please enter api key device!", env.Message)

	w, _ = f.do(t, http.MethodPost, "/v1/whatsapp/send-api", gin.H{"to_number": "15550009", "message": "hi"}, map[string]string{deviceKeyHeader: "key-idle"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/v1/whatsapp/send-api", gin.H{"to_number": "15550009", "message": "hi"}, map[string]string{deviceKeyHeader: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/v1/whatsapp/send-api", gin.H{"to_number": "15550009", "message": "hi"}, map[string]string{deviceKeyHeader: connectedKey})
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, queue.DirectSend{DeviceID: connectedID, UserID: testUser, To: "15550009", Message: "hi"}, f.queue.jobs[0])
}

func TestSendBulk(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodPost, "/v1/whatsapp/send-bulk", gin.H{
		"id_device":  f.ids.Encode(connectedID),
		"to_numbers": []string{"15550007", "15550008", "15550009"},
		"message":    "promo",
	}, bearer(t, testUser))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), env.Data.(map[string]any)["total"])

	require.Len(t, f.queue.jobs, 3)
	assert.Equal(t, 2500*time.Millisecond, f.queue.delay)
	for i, p := range f.queue.jobs {
		b := p.(queue.BulkSend)
		assert.Equal(t, i, b.Index)
		assert.Equal(t, connectedID, b.DeviceID)
		assert.True(t, b.UseWeb)
	}

	w, _ = f.do(t, http.MethodPost, "/v1/whatsapp/send-bulk", gin.H{
		"id_device":  f.ids.Encode(connectedID),
		"to_numbers": []string{},
		"message":    "promo",
	}, bearer(t, testUser))
	assert.Equal(t, 422, w.Code)
}

func TestWebSocketRoom(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	room := f.ids.Encode(connectedID)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?id_device="+room+"&token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?id_device="+room+"&token="+token(t, otherUser), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"?id_device="+room+"&token="+token(t, testUser), nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello notify.Envelope
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Event)
	assert.Equal(t, room, hello.IDDevice)

	require.Eventually(t, func() bool { return f.deps.Hub.Listeners(room) == 1 }, time.Second, 5*time.Millisecond)

	f.deps.Hub.Emit(notify.EventConnectionUpdate, connectedID, map[string]any{"status": "connected"})

	var got notify.Envelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, notify.EventConnectionUpdate, got.Event)
	assert.Equal(t, room, got.IDDevice)
	assert.Equal(t, map[string]any{"status": "connected"}, got.Data)
}
