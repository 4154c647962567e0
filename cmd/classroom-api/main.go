package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/classroom-roster/internal/handler"
	"github.com/noah-isme/classroom-roster/internal/middleware"
	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/repository"
	"github.com/noah-isme/classroom-roster/internal/service"
	"github.com/noah-isme/classroom-roster/pkg/cache"
	"github.com/noah-isme/classroom-roster/pkg/config"
	"github.com/noah-isme/classroom-roster/pkg/database"
	"github.com/noah-isme/classroom-roster/pkg/jobs"
	"github.com/noah-isme/classroom-roster/pkg/logger"
	corsmiddleware "github.com/noah-isme/classroom-roster/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classroom-roster/pkg/middleware/requestid"
	"github.com/noah-isme/classroom-roster/pkg/storage"
)

type studentStore interface {
	LoadAll(ctx context.Context, ownerID string) ([]models.Student, error)
	Put(ctx context.Context, student *models.Student) error
	Patch(ctx context.Context, ownerID, id string, patch models.StudentPatch) error
	Delete(ctx context.Context, ownerID, id string) error
}

type accountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
}

type sessionStore interface {
	GetSession(ctx context.Context) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	ClearSession(ctx context.Context) error
	GetProfile(ctx context.Context, identity string) (*models.TeacherProfile, error)
	SaveProfile(ctx context.Context, identity string, profile *models.TeacherProfile) error
}

type photoBackend interface {
	UploadPhoto(ctx context.Context, ownerID, studentID string, photo *storage.Photo) (string, error)
	DeletePhoto(ctx context.Context, ref string) error
}

type taskQueue interface {
	Enqueue(task jobs.Task) error
}

// backends holds the stores selected by STORE_DRIVER plus what must be closed on exit.
type backends struct {
	students studentStore
	accounts accountStore
	sessions sessionStore
	db       *sqlx.DB
	redis    *redis.Client
}

func (b *backends) Close() error {
	var err error
	if b.redis != nil {
		err = multierr.Append(err, b.redis.Close())
	}
	if b.db != nil {
		err = multierr.Append(err, b.db.Close())
	}
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	stores, err := openBackends(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logr.Warn("failed to close backends", zap.Error(err))
		}
	}()

	var (
		photos  photoBackend
		cleanup taskQueue
	)
	if cfg.Photos.Enabled {
		photoStorage, err := storage.NewPhotoStorage(ctx, cfg.Photos)
		if err != nil {
			return fmt.Errorf("photo storage: %w", err)
		}
		photos = photoStorage

		queue := jobs.NewQueue("photo-cleanup", func(ctx context.Context, task jobs.Task) error {
			return photoStorage.DeletePhoto(ctx, task.Ref)
		}, jobs.QueueConfig{Workers: 2, MaxRetries: 3, RetryDelay: 5 * time.Second, Logger: logr})
		queue.Start(ctx)
		defer queue.Stop()
		cleanup = queue
	}

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}
	validate := service.NewValidator()

	roster := service.NewRosterService(stores.students, photos, cleanup, validate, logr, metrics, service.RosterConfig{
		ScopeByClass:  cfg.Roster.ScopeByClass,
		StoreTimeout:  cfg.Store.Timeout,
		MaxPhotoBytes: cfg.Photos.MaxUploadBytes,
	})
	defer roster.Deactivate()

	sessions := service.NewSessionService(stores.accounts, stores.sessions, roster, validate, logr, metrics)
	if restored, err := sessions.Restore(ctx); err != nil {
		logr.Warn("failed to restore session", zap.Error(err))
	} else {
		logr.Info("session state", zap.String("state", string(restored.State)))
	}

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Expiry: cfg.JWT.Expiration})
	reports := service.NewExportService(roster, logr, nil, nil)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	handler.Register(r, cfg.APIPrefix, handler.Handlers{
		Session: handler.NewSessionHandler(sessions, tokens),
		Roster:  handler.NewRosterHandler(roster, reports),
		Metrics: handler.NewMetricsHandler(metrics, roster),
	}, middleware.SessionAuth(tokens, sessions))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logr.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openBackends(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*backends, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := database.EnsureSchema(ctx, db, logr); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("schema: %w", err)
		}
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		return &backends{
			students: repository.NewStudentRepository(db),
			accounts: repository.NewAccountRepository(db),
			sessions: repository.NewSessionRepository(client, cfg.Session.KeyPrefix, cfg.Session.TTL, logr),
			db:       db,
			redis:    client,
		}, nil
	default:
		local, err := storage.NewLocalStorage(cfg.Store.LocalDataDir)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		b := &backends{
			accounts: repository.NewLocalAccountRepository(local),
			sessions: repository.NewLocalSessionRepository(local),
		}
		if cfg.Store.Driver == config.StoreMemory {
			b.students = repository.NewMemoryStudentRepository()
		} else {
			b.students = repository.NewLocalStudentRepository(local)
		}
		return b, nil
	}
}
