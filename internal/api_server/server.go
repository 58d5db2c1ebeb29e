package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gradebook/records-api/internal/auth"
	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/config"
	"github.com/gradebook/records-api/internal/events"
	handlers "github.com/gradebook/records-api/internal/handlers/v1alpha1"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/service"
	"github.com/gradebook/records-api/internal/storage"
	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/pkg/metrics"
	"github.com/gradebook/records-api/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	queueStopTimeout        = 30 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
}

// New returns a new instance of the records api server.
func New(
	cfg *config.Config,
	store store.Store,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		listener: listener,
	}
}

func (s *Server) Run(ctx context.Context) error {
	logger := zap.S().Named("api_server")
	logger.Info("Initializing API server")

	authenticator, err := auth.NewAuthenticator(*s.cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	verifier, err := newVerifier(s.cfg)
	if err != nil {
		return err
	}
	signer, err := newSigner(s.cfg)
	if err != nil {
		return err
	}
	baseURL, err := queue.CallbackBaseURL(s.cfg.Service.BaseUrl)
	if err != nil {
		return err
	}
	deliverer := queue.NewDeliverer(baseURL, &http.Client{Timeout: s.cfg.Queue.DeliveryTimeout}, signer)

	publisher, stopQueue, err := s.startQueue(ctx, deliverer)
	if err != nil {
		return err
	}
	defer stopQueue()

	objects, err := storage.New(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to create object storage: %w", err)
	}
	logger.Infof("object storage: %s", objects.Type())

	writer, err := events.NewWriter(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to create event writer: %w", err)
	}
	producer := events.NewEventProducer(writer, events.WithOutputTopic(s.cfg.Events.Topic))
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warnw("failed to close event producer", "error", err)
		}
	}()

	policy, err := batch.ParseRowPolicy(s.cfg.Service.RowPolicy)
	if err != nil {
		return err
	}

	opener := batch.NewSignedURLOpener(objects, nil, s.cfg.Storage.DownloadURLExpiry)
	h := handlers.NewServiceHandler(
		service.NewJobService(s.store, objects, publisher, producer, s.cfg.Queue.ProcessRetries),
		service.NewProcessService(s.store, opener, publisher, producer, service.ProcessOptions{
			ChunkSize:    s.cfg.Service.ChunkSize,
			Policy:       policy,
			ChunkRetries: s.cfg.Queue.ChunkRetries,
		}),
		service.NewIngestService(s.store, producer),
		verifier,
		s.cfg.Service.MaxUploadSize,
	)

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"https://*", "http://localhost:*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", h.Health)
	h.QueueRoutes(router)
	router.Group(func(r chi.Router) {
		r.Use(authenticator.Authenticator, auth.RequireRole(auth.RoleTeacher))
		h.UserRoutes(r)
	})

	monitor := service.NewJobMonitor(s.store, s.cfg.Service.MonitorInterval, s.cfg.Service.StaleJobAfter)
	go monitor.Run(ctx)

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		logger.Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		logger.Info("api server terminated")
	}()

	logger.Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// startQueue starts the delivery side of the configured queue and returns
// the publisher and the function stopping it.
func (s *Server) startQueue(ctx context.Context, deliverer *queue.Deliverer) (queue.Publisher, func(), error) {
	logger := zap.S().Named("api_server")

	switch s.cfg.Queue.Mode {
	case "direct":
		direct := queue.NewDirectPublisher(deliverer, s.cfg.Queue.MaxWorkers, s.cfg.Queue.DirectQueueBufferSize)
		direct.Start(ctx)
		logger.Info("direct delivery queue initialized")
		return direct, direct.Stop, nil
	case "river", "":
		if s.cfg.Database.Type != "pgsql" {
			return nil, nil, fmt.Errorf("queue mode river requires a pgsql database, got %s", s.cfg.Database.Type)
		}

		poolCfg, err := pgxpool.ParseConfig(store.PostgresDSN(s.cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse pgx config: %w", err)
		}
		// river keeps one connection for LISTEN on top of the workers
		poolCfg.MaxConns = int32(s.cfg.Queue.MaxWorkers) + 5
		poolCfg.MinConns = 2
		poolCfg.MaxConnLifetime = time.Hour
		poolCfg.MaxConnIdleTime = 30 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}

		client, err := queue.NewRiverClient(pool, queue.NewDeliveryWorker(deliverer, s.cfg.Queue.DeliveryTimeout), s.cfg.Queue.MaxWorkers)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create river client: %w", err)
		}
		if err := client.Start(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to start river: %w", err)
		}
		logger.Info("River delivery queue initialized")

		stop := func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), queueStopTimeout)
			defer cancel()
			if err := client.Stop(stopCtx); err != nil {
				logger.Warnw("failed to stop river client", "error", err)
			}
			pool.Close()
		}
		return queue.NewRiverPublisher(client), stop, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue mode %q", s.cfg.Queue.Mode)
	}
}

// newVerifier accepts callbacks signed with the current or next key. Without
// keys, verification is skipped only when explicitly allowed.
func newVerifier(cfg *config.Config) (*queue.Verifier, error) {
	qc := cfg.Queue
	if qc.CurrentSigningKey == "" && qc.NextSigningKey == "" {
		if !qc.InsecureSkipVerify {
			return nil, errors.New("queue signing key is required unless RECORDS_QUEUE_INSECURE_SKIP_VERIFY is set")
		}
		zap.S().Named("api_server").Warn("queue callback signatures are not verified")
		return queue.NewInsecureVerifier(), nil
	}
	return queue.NewVerifier(qc.CurrentSigningKey, qc.NextSigningKey)
}

// newSigner signs with the current key, falling back to the next one while a
// rotation is in progress. An insecure setup signs with a throwaway key.
func newSigner(cfg *config.Config) (*queue.Signer, error) {
	qc := cfg.Queue
	key := qc.CurrentSigningKey
	if key == "" {
		key = qc.NextSigningKey
	}
	if key == "" {
		key = uuid.NewString()
	}
	return queue.NewSigner(key, qc.SignatureTokenExpiry)
}
