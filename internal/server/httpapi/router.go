// Package httpapi exposes the gateway over REST and a websocket channel:
// device authentication and logout, queued message sends and per-device
// notification rooms.
package httpapi

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/notify"
	"github.com/dmitrijs2005/wagate/internal/queue"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wagate/internal/session"
	"github.com/gin-gonic/gin"
)

// Sessions is the part of the session manager the API drives.
type Sessions interface {
	SessionExists(deviceID string) bool
	CreateSession(ctx context.Context, opts session.CreateOptions) error
	DeleteSession(ctx context.Context, deviceID string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload, opts ...queue.EnqueueOption) (string, error)
}

type BulkEnqueuer interface {
	EnqueueBulk(ctx context.Context, payloads []queue.Payload, step time.Duration) ([]string, error)
}

// OTP issues and checks one-time codes sent to the device owner's email.
type OTP interface {
	Issue(ctx context.Context, email string, purpose queue.OTPPurpose) error
	Verify(ctx context.Context, email string, purpose queue.OTPPurpose, code string) (bool, error)
}

// IDCodec converts between internal device ids and the ids clients see.
type IDCodec interface {
	Encode(id string) string
	Decode(public string) (string, error)
}

type Deps struct {
	DB        *sql.DB
	Repos     repomanager.RepositoryManager
	Sessions  Sessions
	Direct    Enqueuer
	Bulk      BulkEnqueuer
	Hub       *notify.Hub
	OTP       OTP
	IDs       IDCodec
	SecretKey []byte
	// AuthWait bounds how long an auth request waits for the challenge.
	AuthWait time.Duration
	// BulkDelay spaces the items of a bulk send.
	BulkDelay time.Duration
	Logger    logging.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		respond(c, 200, true, "OK", nil)
	})

	dh := &DeviceHandler{deps: deps}
	wh := &WhatsAppHandler{deps: deps}
	ws := &WebSocketHandler{deps: deps}

	protected := r.Group("/v1")
	protected.Use(RequireAuth(deps.SecretKey))
	protected.POST("/device/auth", dh.Auth)
	protected.DELETE("/device/logout/:idDevice", dh.Logout)
	protected.POST("/device/remove/:idDevice", dh.RequestRemoval)
	protected.DELETE("/device/remove/:idDevice", dh.ConfirmRemoval)
	protected.POST("/whatsapp/send-web", wh.SendWeb)
	protected.POST("/whatsapp/send-bulk", wh.SendBulk)

	r.POST("/v1/whatsapp/send-api", RequireDeviceKey(deps), wh.SendAPI)
	r.GET("/v1/ws", ws.Serve)

	return r
}
