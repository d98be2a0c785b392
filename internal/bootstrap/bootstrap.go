package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	appControllers "github.com/yigit/chathub/internal/app/controllers"
	appMigrations "github.com/yigit/chathub/internal/app/migrations"
	appRepos "github.com/yigit/chathub/internal/app/repositories"
	"github.com/yigit/chathub/internal/app/repositories/memory"
	appRoutes "github.com/yigit/chathub/internal/app/routes"
	appServices "github.com/yigit/chathub/internal/app/services"
	"github.com/yigit/chathub/internal/config"
	"github.com/yigit/chathub/internal/db"
	appMiddleware "github.com/yigit/chathub/internal/middleware"
	pkgAuth "github.com/yigit/chathub/internal/pkg/auth"
	"github.com/yigit/chathub/internal/pkg/broker"
	"github.com/yigit/chathub/internal/pkg/logger"
	"github.com/yigit/chathub/internal/pkg/presence"
	"github.com/yigit/chathub/internal/pkg/websocket"
	"github.com/yigit/chathub/internal/seed"
)

// Storage is the persistence backend selected by configuration
type Storage struct {
	Repos  *appRepos.Repositories
	Seeder seed.ProfileSeeder
	// Pool is nil for the in-memory driver
	Pool *pgxpool.Pool
}

// Close releases the backend's resources
func (s *Storage) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Dependencies holds all the application dependencies
type Dependencies struct {
	ChatService       appServices.ChatService
	MessageService    appServices.MessageService
	ReadStateService  appServices.ReadStateService
	ChatController    *appControllers.ChatController
	MessageController *appControllers.MessageController
	AuthMiddleware    *appMiddleware.AuthMiddleware
	JWTService        *pkgAuth.JWTService
	Hub               *websocket.Hub
	Tracker           *presence.Tracker
	Gateway           *websocket.Gateway
	WSHandler         *websocket.Handler
	// Relay and RedisClient are nil unless redis is enabled
	Relay       *broker.Relay
	RedisClient *redis.Client
	Storage     *Storage
	Logger      zerolog.Logger
}

// Close releases everything BuildDependencies opened
func (d *Dependencies) Close() {
	if d.Tracker != nil {
		d.Tracker.Close()
	}
	if d.RedisClient != nil {
		if err := d.RedisClient.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if d.Storage != nil {
		d.Storage.Close()
	}
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger() (*config.Config, zerolog.Logger, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join("configs", "config.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	prettyLog := strings.ToLower(cfg.Logging.Format) == "text"

	logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: prettyLog,
	})

	lgr := log.Logger
	lgr.Info().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupStorage opens the configured backend and, for Postgres, runs migrations.
func SetupStorage(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (*Storage, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		lgr.Warn().Msg("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return &Storage{Repos: store.Repositories(), Seeder: store}, nil
	}

	lgr.Info().Msg("Establishing database connection...")
	database, err := db.NewPostgresDB(cfg)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}
	dbPool := database.Pool
	lgr.Info().Msg("Database connection successfully established.")

	lgr.Info().Msg("Running database migrations...")
	migrationsDir := cfg.Database.MigrationsDir
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		dbPool.Close()
		lgr.Error().Str("path", migrationsDir).Msg("Migrations directory not found")
		return nil, fmt.Errorf("migrations directory not found at %s: %w", migrationsDir, err)
	}

	migrator := appMigrations.NewMigrator(dbPool, lgr)
	if err := migrator.MigrateFromDirectory(ctx, migrationsDir); err != nil {
		dbPool.Close()
		lgr.Error().Err(err).Msg("Database migration error")
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	lgr.Info().Msg("Database migrations successfully applied.")

	return &Storage{
		Repos:  appRepos.NewRepositories(dbPool),
		Seeder: appRepos.NewProfileRepository(dbPool),
		Pool:   dbPool,
	}, nil
}

// BuildDependencies wires services, the live layer and controllers.
// Construction order matters: the hub exists before the tracker whose typing
// callback publishes to it, and the gateway is built last.
func BuildDependencies(ctx context.Context, cfg *config.Config, storage *Storage, lgr zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Storage: storage, Logger: lgr}

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: cfg.JWT.AccessTokenExpiration,
		TokenIssuer:    cfg.JWT.Issuer,
	})

	if cfg.Storage.Seed {
		if _, err := seed.CreateDefaultData(ctx, storage.Seeder, deps.JWTService, lgr); err != nil {
			lgr.Error().Err(err).Msg("Failed to create demo data, proceeding anyway...")
		}
	}

	deps.Hub = websocket.NewHub(lgr)
	deps.Tracker = presence.NewTracker(cfg.Chat.TypingTimeout, websocket.TypingPublisher(deps.Hub))

	limits := appServices.Limits{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		MaxAttachments:   cfg.Chat.MaxAttachments,
		DefaultPageSize:  cfg.Chat.DefaultPageSize,
		MaxPageSize:      cfg.Chat.MaxPageSize,
	}

	deps.ChatService = appServices.NewChatService(storage.Repos, deps.Hub, deps.Tracker, limits, lgr)
	deps.MessageService = appServices.NewMessageService(storage.Repos, deps.Hub, limits, lgr)
	deps.ReadStateService = appServices.NewReadStateService(storage.Repos, deps.Hub, lgr)

	deps.Gateway = websocket.NewGateway(deps.Hub, deps.ChatService, deps.MessageService, deps.Tracker, websocket.GatewayConfig{
		SendBufferSize: cfg.Chat.SendBufferSize,
		CommandRate:    cfg.Chat.CommandRate,
		CommandBurst:   cfg.Chat.CommandBurst,
	}, lgr)
	deps.WSHandler = websocket.NewHandler(deps.Gateway, cfg.AllowedOrigins(), lgr)

	if cfg.Redis.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := broker.NewRedisClient(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			deps.Tracker.Close()
			return nil, err
		}
		deps.RedisClient = client
		deps.Relay = broker.NewRelay(client, cfg.Redis.Channel, deps.Hub, deps.Tracker, lgr)
		deps.Hub.AddListener(deps.Relay.Enqueue)
		lgr.Info().Str("addr", cfg.Redis.Addr).Str("instanceID", deps.Relay.InstanceID()).Msg("Redis event relay enabled")
	}

	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)
	deps.ChatController = appControllers.NewChatController(deps.ChatService, deps.ReadStateService)
	deps.MessageController = appControllers.NewMessageController(deps.MessageService)

	return deps, nil
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, lgr zerolog.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	} else {
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		appMiddleware.RequestLogger(lgr),
		appMiddleware.RateLimit(cfg.Server.RequestsPerSecond),
	)

	appRoutes.SetupRouter(router,
		deps.ChatController,
		deps.MessageController,
		deps.WSHandler,
		deps.AuthMiddleware,
	)

	return router
}
