package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bhargava562/vyapar-ai/internal/client"
	"github.com/bhargava562/vyapar-ai/internal/config"
	"github.com/bhargava562/vyapar-ai/internal/hashing"
	"github.com/bhargava562/vyapar-ai/internal/notifier"
	"github.com/bhargava562/vyapar-ai/internal/ratelimit"
	redisrepo "github.com/bhargava562/vyapar-ai/internal/repository/redis"
	"github.com/bhargava562/vyapar-ai/internal/repository/scylla"
	"github.com/bhargava562/vyapar-ai/internal/service"
	"github.com/bhargava562/vyapar-ai/internal/token"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Managers
	hasher       *hashing.Hasher
	tokenManager *token.Manager

	// Lazily built components
	limiter     *ratelimit.Limiter
	guard       *ratelimit.Guard
	quota       *ratelimit.Quota
	authService *service.AuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes all external clients.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.hasher = hashing.NewHasher(cfg)
	factory.tokenManager = token.NewManager(cfg)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)
	return factory, nil
}

// initializeClients brings up Redis, ScyllaDB, and Kafka with health checks.
// Kafka is optional: auth keeps working without audit events. In development
// the other failures degrade to warnings so the service can start against a
// partial stack.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if redisClient, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without audit events",
				util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Limiter() *ratelimit.Limiter {
	if f.limiter == nil {
		f.limiter = ratelimit.NewLimiter(redisrepo.NewCounterCache(f.redisClient), f.config)
	}
	return f.limiter
}

func (f *Factory) Guard() *ratelimit.Guard {
	if f.guard == nil {
		f.guard = ratelimit.NewGuard(redisrepo.NewCounterCache(f.redisClient), f.config)
	}
	return f.guard
}

func (f *Factory) Quota() *ratelimit.Quota {
	if f.quota == nil {
		f.quota = ratelimit.NewQuota(redisrepo.NewCounterCache(f.redisClient), f.Guard(), f.config)
	}
	return f.quota
}

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		deps := service.AuthServiceDeps{
			Vendors:      scylla.NewVendorRepository(f.scyllaClient),
			OTPs:         scylla.NewOTPRepository(f.scyllaClient),
			Sessions:     scylla.NewSessionRepository(f.scyllaClient),
			TokenCache:   redisrepo.NewTokenCache(f.redisClient),
			SessionCache: redisrepo.NewSessionCache(f.redisClient),
			Hasher:       f.hasher,
			Tokens:       f.tokenManager,
			Quota:        f.Quota(),
			Guard:        f.Guard(),
			Notifier:     notifier.NewLogNotifier(util.Get()),
			Logger:       util.Get(),
		}
		if f.kafkaProducer != nil {
			deps.Events = f.kafkaProducer
		}
		f.authService = service.NewAuthService(f.config, deps)
	}
	return f.authService
}

// HealthCheck reports per-dependency health. Kafka only appears when it was
// configured; it is advisory either way.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
	})
	return nil
}
