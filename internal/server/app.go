// Package server wires the gateway together: storage, the messaging
// transport, session supervision, the dispatch queues and the HTTP API.
// It also owns graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/wagate/internal/counter"
	"github.com/dmitrijs2005/wagate/internal/dispatch"
	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/mailer"
	"github.com/dmitrijs2005/wagate/internal/notify"
	"github.com/dmitrijs2005/wagate/internal/publicid"
	"github.com/dmitrijs2005/wagate/internal/queue"
	"github.com/dmitrijs2005/wagate/internal/server/authstate"
	"github.com/dmitrijs2005/wagate/internal/server/config"
	"github.com/dmitrijs2005/wagate/internal/server/httpapi"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wagate/internal/session"
	"github.com/dmitrijs2005/wagate/internal/transport/wa"
	"github.com/gin-gonic/gin"
)

const counterSweepInterval = time.Minute

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	counter  *counter.Memory
	dialer   *wa.Dialer
	sessions *session.Manager
	handler  *dispatch.Handler
	queues   []*queue.Queue
	server   *http.Server
}

func newMailer(c mailer.Config, logger logging.Logger) (mailer.Sender, error) {
	if c.Host == "" {
		return mailer.NewLogSender(logger), nil
	}
	s, err := mailer.NewSMTPSender(c)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	ids, err := publicid.New(c.PublicIDSalt, c.PublicIDMinLength)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	dialer, err := wa.NewDialer(ctx, c.StoreDialect, c.EffectiveStoreDSN(), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	sender, err := newMailer(c.Mail, logger)
	if err != nil {
		_ = dialer.Close()
		_ = db.Close()
		return nil, fmt.Errorf("mailer init error: %w", err)
	}

	qopts := queue.Options{
		Rate:         c.QueueRate,
		MaxAttempts:  c.QueueAttempts,
		Backoff:      c.QueueBackoff,
		PollInterval: c.QueuePollInterval,
	}
	direct := queue.New(queue.WhatsApp, db, repos, logger, qopts)
	bulk := queue.New(queue.WhatsAppBulk, db, repos, logger, qopts)
	email := queue.New(queue.Email, db, repos, logger, qopts)

	cnt := counter.NewMemory()
	hub := notify.New(ids.Encode, logger)
	table := session.NewTable()

	sessions := session.NewManager(session.Config{
		ReconnectDelay:         c.ReconnectDelay,
		ChallengeTimeout:       c.ChallengeTimeout,
		DisconnectNoticeWindow: c.DisconnectNoticeWindow,
	}, session.Deps{
		DB:       db,
		Repos:    repos,
		Store:    authstate.NewStore(db, repos, c.SessionSecret, logger),
		Dialer:   dialer,
		Table:    table,
		Backoff:  session.NewBackoff(c.MaxReconnectAttempts),
		Notifier: hub,
		Mail:     email,
		Counter:  cnt,
		Logger:   logger,
	})

	router := httpapi.NewRouter(httpapi.Deps{
		DB:        db,
		Repos:     repos,
		Sessions:  sessions,
		Direct:    direct,
		Bulk:      bulk,
		Hub:       hub,
		OTP:       dispatch.NewOTP(cnt, email),
		IDs:       ids,
		SecretKey: []byte(c.SecretKey),
		AuthWait:  c.AuthResponseTimeout,
		BulkDelay: c.BulkDelay,
		Logger:    logger,
	})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		counter:  cnt,
		dialer:   dialer,
		sessions: sessions,
		handler:  dispatch.New(table, db, repos, sender, logger),
		queues:   []*queue.Queue{direct, bulk, email},
		server:   &http.Server{Addr: c.EndpointAddrHTTP, Handler: router},
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "HTTP server listening", "addr", app.server.Addr)
	if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a signal arrives, then shuts down:
// the sessions first (credentials kept) so waiting auth requests are
// answered, then HTTP, then the workers.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	workers, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.counter.Run(workers, counterSweepInterval)
	}()

	for _, q := range app.queues {
		wg.Add(1)
		go func(q *queue.Queue) {
			defer wg.Done()
			q.Run(workers, app.handler)
		}(q)
	}

	if err := app.sessions.Restore(ctx); err != nil {
		app.logger.Error(ctx, "restoring sessions failed", "error", err)
	}

	gin.SetMode(gin.ReleaseMode)
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	app.logger.Info(context.Background(), "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()

	if err := app.sessions.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "session shutdown failed", "error", err)
	}
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "HTTP shutdown failed", "error", err)
	}

	stopWorkers()
	wg.Wait()

	if err := app.dialer.Close(); err != nil {
		app.logger.Error(shutdownCtx, "closing device store failed", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "closing database failed", "error", err)
	}
	app.logger.Info(context.Background(), "Stopped")
}
