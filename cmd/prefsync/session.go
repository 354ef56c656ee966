package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vango-dev/prefsync/internal/config"
	"github.com/vango-dev/prefsync/internal/errors"
	"github.com/vango-dev/prefsync/internal/logging"
	"github.com/vango-dev/prefsync/pkg/instrument"
	"github.com/vango-dev/prefsync/pkg/owner"
	"github.com/vango-dev/prefsync/pkg/pref"
	"github.com/vango-dev/prefsync/pkg/relay"
	"github.com/vango-dev/prefsync/pkg/storage"
	"github.com/vango-dev/prefsync/pkg/storage/filestore"
	"github.com/vango-dev/prefsync/pkg/storage/memory"
	"github.com/vango-dev/prefsync/pkg/storage/s3store"
	"github.com/vango-dev/prefsync/pkg/storage/sqlitestore"
)

// session is everything a command needs: resolved config, a logger and
// an open backend. Disposing the owner closes cells before the stores
// they use.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  storage.Backend
	registry *prometheus.Registry
	inst     *instrument.Instrumenter
	owner    *owner.Owner

	mu       sync.Mutex
	warnings []error

	// onWarning, if set before cells are opened, is called with each
	// contained failure.
	onWarning func(error)
}

// loadConfig reads configuration, applies flag overrides, then
// validates the result.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Read(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.backend != "" {
		cfg.Backend = flags.backend
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openSession(ctx context.Context, flags *globalFlags) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg: cfg,
		logger: logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		}),
		owner: owner.New(nil),
	}

	backend, err := s.openBackend()
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Relay.URL != "" {
		client, err := relay.Dial(ctx, cfg.Relay.URL, cfg.Relay.Origin, relay.WithClientLogger(s.logger))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.owner.OnCleanup(func() { _ = client.Close() })
		backend = relay.Attach(backend, client)
	}

	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.inst = instrument.New(
			instrument.WithRegistry(s.registry),
			instrument.WithNamespace(cfg.Metrics.Namespace),
		)
		backend = s.inst.Wrap(backend)
	}

	s.backend = backend
	return s, nil
}

func (s *session) openBackend() (storage.Backend, error) {
	cfg := s.cfg
	switch cfg.Backend {
	case config.BackendMemory:
		c := memory.NewSpace().Context()
		s.owner.OnCleanup(func() { _ = c.Close() })
		return c, nil

	case config.BackendFile:
		fs, err := filestore.Open(cfg.File.Dir, filestore.WithLogger(s.logger))
		if err != nil {
			return nil, errors.New("E001").WithDetail("Could not open " + cfg.File.Dir).Wrap(err)
		}
		s.owner.OnCleanup(func() { _ = fs.Close() })
		return fs, nil

	case config.BackendSQLite:
		poll, _ := cfg.SQLitePollInterval()
		retention, _ := cfg.SQLiteRetention()
		db, err := sqlitestore.Open(cfg.SQLite.Path,
			sqlitestore.WithPollInterval(poll),
			sqlitestore.WithRetention(retention),
			sqlitestore.WithLogger(s.logger),
		)
		if err != nil {
			return nil, errors.New("E001").WithDetail("Could not open " + cfg.SQLite.Path).Wrap(err)
		}
		s.owner.OnCleanup(func() { _ = db.Close() })
		return db, nil

	case config.BackendS3:
		st := s3store.New(newS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix)
		s.owner.OnCleanup(func() { _ = st.Close() })
		return st, nil
	}
	return nil, errors.New("E123").WithDetail("Unknown backend \"" + cfg.Backend + "\"")
}

// newS3Client builds a client from static configuration. Credentials
// come from the config file, then the standard AWS_* variables.
func newS3Client(cfg config.S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	accessKey, secretKey, token := cfg.AccessKeyID, cfg.SecretAccessKey, ""
	if accessKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		token = os.Getenv("AWS_SESSION_TOKEN")
	}

	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if accessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
					SessionToken:    token,
					Source:          "prefsync",
				}, nil
			}))
	}
	return s3.New(opts)
}

// sink logs contained cell failures and records them so commands can
// report a non-zero exit.
func (s *session) sink() pref.Sink {
	var next pref.Sink = pref.SinkFunc(func(key string, err error) {
		s.mu.Lock()
		s.warnings = append(s.warnings, err)
		s.mu.Unlock()
		pref.LogSink(s.logger).Warn(key, err)
		if s.onWarning != nil {
			s.onWarning(err)
		}
	})
	if s.inst != nil {
		next = s.inst.Sink(next)
	}
	return next
}

// firstWarning returns the first failure a cell reported, if any.
func (s *session) firstWarning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.warnings) == 0 {
		return nil
	}
	return s.warnings[0]
}

// cell opens a JSON cell for key, owned by the session.
func (s *session) cell(ctx context.Context, key string, def any) *pref.Pref[any] {
	return pref.New[any](s.backend, key, def,
		pref.WithSink(s.sink()),
		pref.WithOwner(s.owner),
		pref.WithContext(ctx),
	)
}

// Close disposes every cell and closes the backend.
func (s *session) Close() {
	s.owner.Dispose()
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second
