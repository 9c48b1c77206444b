package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/nainya/metastore/internal/bootstrap"
	"github.com/nainya/metastore/internal/config"
	"github.com/nainya/metastore/internal/logger"
	"github.com/nainya/metastore/internal/metrics"
	"github.com/nainya/metastore/internal/server"
	"github.com/nainya/metastore/pkg/docstore"
	"github.com/nainya/metastore/pkg/docstore/mongostore"
	"github.com/nainya/metastore/pkg/docstore/sqlitestore"
	"github.com/nainya/metastore/pkg/index"
	"github.com/nainya/metastore/pkg/metastore"
	"github.com/nainya/metastore/pkg/mets"
	"github.com/nainya/metastore/pkg/search"
	"github.com/nainya/metastore/pkg/search/elastic"
	"github.com/nainya/metastore/pkg/search/natsprovider"
)

type serveOptions struct {
	configPath  string
	port        int
	metricsPort int
	backend     string
	dbPath      string
	logLevel    string
	schemas     []string
	watchDir    string
}

// NewServeCommand starts the gRPC server.
func NewServeCommand() *cobra.Command {
	return newServeCommand(&serveOptions{})
}

func newServeCommand(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MetaStore gRPC server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.IntVar(&opts.port, "port", 0, "gRPC port")
	f.IntVar(&opts.metricsPort, "metrics-port", 0, "observability HTTP port")
	f.StringVar(&opts.backend, "store", "", "store backend (memory|sqlite|mongo)")
	f.StringVar(&opts.dbPath, "db", "", "SQLite database path")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	f.StringArrayVar(&opts.schemas, "schema", nil, "schema to register at startup as prefix=file (repeatable)")
	f.StringVar(&opts.watchDir, "watch-dir", "", "directory watched for <prefix>.xsd files")

	return cmd
}

// load reads the config file and applies the flags that were set.
func (o *serveOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Server.Port = o.port
	}
	if f.Changed("metrics-port") {
		cfg.Server.MetricsPort = o.metricsPort
	}
	if f.Changed("store") {
		cfg.Store.Backend = o.backend
	}
	if f.Changed("db") {
		cfg.Store.SQLite.Path = o.dbPath
	}
	if f.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if f.Changed("watch-dir") {
		cfg.Bootstrap.WatchDir = o.watchDir
	}
	for _, s := range o.schemas {
		prefix, file, err := config.ParseSchemaFlag(s)
		if err != nil {
			return nil, err
		}
		if cfg.Bootstrap.Schemas == nil {
			cfg.Bootstrap.Schemas = make(map[string]string)
		}
		cfg.Bootstrap.Schemas[prefix] = file
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Serve runs the server described by cfg until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, WithCaller: cfg.Log.Caller})
	log.LogServerStart(cfg.Server.Port, cfg.Store.Backend)
	m := metrics.NewMetrics()

	svc, err := Build(cfg, log, m)
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := bootstrap.RegisterFiles(ctx, svc, cfg.Bootstrap.Schemas, log.Zerolog()); err != nil {
		return err
	}
	if dir := cfg.Bootstrap.WatchDir; dir != "" {
		w, err := bootstrap.NewWatcher(dir, svc, 0, log.Zerolog())
		if err != nil {
			return err
		}
		defer w.Close()
		results, err := bootstrap.ScanDir(ctx, svc, dir)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != nil {
				log.Warn("schema in watched dir not registered").Str("file", r.File).Err(r.Err).Send()
			}
		}
		go w.Run(ctx)
		go func() {
			for range w.Results() {
			}
		}()
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageBytes),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageBytes),
	)
	server.NewServer(svc, Version).Register(grpcServer)

	var obs *server.ObservabilityServer
	if cfg.Server.MetricsPort > 0 {
		ready := func(ctx context.Context) error {
			_, err := svc.ListPrefixes(ctx)
			return err
		}
		obs = server.NewObservabilityServer(fmt.Sprintf(":%d", cfg.Server.MetricsPort), m, ready, log)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("observability server stopped").Err(err).Send()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.LogServerShutdown()
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(shutdownCtx)
		}
		grpcServer.GracefulStop()
	}()

	log.LogServerReady(lis.Addr().String())
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Build opens the configured store and search provider and assembles the
// service around them.
func Build(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*metastore.Service, error) {
	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	store = server.InstrumentStore(docstore.WithTimeout(store, cfg.Store.Timeout), cfg.Store.Backend, m, log)

	transformers, err := openTransformers(cfg.Search.Transforms)
	if err != nil {
		store.Close()
		return nil, err
	}

	provider, err := openProvider(cfg.Search, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	return metastore.New(metastore.Config{
		Composite:     mets.Config{Namespace: cfg.Composite.Namespace, Wrapper: cfg.Composite.Wrapper},
		CreateRetries: cfg.Store.CreateRetries,
		RetryDelay:    cfg.Store.RetryDelay,
		IndexHooks:    m.IndexHooks(),
		Transformers:  transformers,
		ExcludedTypes: cfg.Search.Exclude,
		Observer:      m,
	}, store, provider, log.Zerolog()), nil
}

func openTransformers(transforms map[string][]string) (map[string]index.Transformer, error) {
	out := make(map[string]index.Transformer, len(transforms))
	for prefix, paths := range transforms {
		filter, err := index.NewPathFilter(paths...)
		if err != nil {
			return nil, fmt.Errorf("search.transforms.%s: %w", prefix, err)
		}
		out[prefix] = filter
	}
	return out, nil
}

func openStore(cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return docstore.NewMemoryStore(), nil
	case config.BackendSQLite:
		return sqlitestore.Open(cfg.SQLite.Path)
	case config.BackendMongo:
		return mongostore.Open(mongostore.Config{
			URL:        cfg.Mongo.URL,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func openProvider(cfg config.SearchConfig, log *logger.Logger) (search.Provider, error) {
	switch cfg.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderElastic:
		es := cfg.Elasticsearch
		return elastic.New(elastic.Config{
			URL:      es.URL,
			Index:    es.Index,
			Username: es.Username,
			Password: es.Password,
			Timeout:  es.Timeout,
		}, log.Zerolog())
	case config.ProviderNATS:
		n := cfg.NATS
		return natsprovider.Connect(natsprovider.Config{
			URL:       n.URL,
			Subject:   n.Subject,
			JetStream: n.JetStream,
			Timeout:   n.Timeout,
		}, log.Zerolog())
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}
