// Package config provides configuration loading for the MetaStore server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nainya/metastore/pkg/mets"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Search providers
const (
	ProviderNone    = ""
	ProviderElastic = "elasticsearch"
	ProviderNATS    = "nats"
)

// Config represents the complete MetaStore configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Composite CompositeConfig `yaml:"composite"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig configures the listeners
type ServerConfig struct {
	// Port is the gRPC port
	Port int `yaml:"port"`
	// MetricsPort serves /metrics, /health, /ready and pprof (0 disables it)
	MetricsPort int `yaml:"metrics_port"`
	// MaxMessageBytes bounds gRPC messages in both directions
	MaxMessageBytes int `yaml:"max_message_bytes"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	Caller bool   `yaml:"caller"`
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Timeout bounds every store call (0 disables the bound)
	Timeout time.Duration `yaml:"timeout"`
	// CreateRetries is how often a timed out root write is retried
	CreateRetries int           `yaml:"create_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	SQLite        SQLiteConfig  `yaml:"sqlite"`
	Mongo         MongoConfig   `yaml:"mongo"`
}

// SQLiteConfig configures the SQLite backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MongoConfig configures the MongoDB backend
type MongoConfig struct {
	URL        string `yaml:"url"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// CompositeConfig names the composite document format
type CompositeConfig struct {
	Namespace string `yaml:"namespace"`
	Wrapper   string `yaml:"wrapper"`
}

// BootstrapConfig lists schemas registered at startup
type BootstrapConfig struct {
	// Schemas maps a prefix to a schema file
	Schemas map[string]string `yaml:"schemas"`
	// WatchDir is scanned at startup and watched for new <prefix>.xsd files
	WatchDir string `yaml:"watch_dir"`
}

// DataOrganizationNamespace holds key/value sections whose value types vary
// per entry, so they are kept out of the search provider by default
const DataOrganizationNamespace = "http://datamanager.kit.edu/dama/dataorganization"

// SearchConfig selects an external search provider
type SearchConfig struct {
	Provider      string              `yaml:"provider"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	NATS          NATSConfig          `yaml:"nats"`
	// Exclude lists section namespaces never sent to the provider
	Exclude []string `yaml:"exclude"`
	// Transforms maps a prefix to the element paths dropped from its
	// sections before they are sent to the provider
	Transforms map[string][]string `yaml:"transforms"`
}

// ElasticsearchConfig configures the Elasticsearch provider
type ElasticsearchConfig struct {
	URL      string        `yaml:"url"`
	Index    string        `yaml:"index"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS provider
type NATSConfig struct {
	URL       string        `yaml:"url"`
	Subject   string        `yaml:"subject"`
	JetStream bool          `yaml:"jetstream"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            50051,
			MetricsPort:     9090,
			MaxMessageBytes: 100 * 1024 * 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Backend:       BackendSQLite,
			Timeout:       10 * time.Second,
			CreateRetries: 2,
			RetryDelay:    200 * time.Millisecond,
			SQLite:        SQLiteConfig{Path: "metastore.db"},
			Mongo: MongoConfig{
				URL:        "mongodb://localhost:27017",
				Database:   "metastore",
				Collection: "records",
			},
		},
		Composite: CompositeConfig{
			Namespace: mets.DefaultNamespace,
			Wrapper:   mets.DefaultWrapper,
		},
		Search: SearchConfig{
			Elasticsearch: ElasticsearchConfig{
				URL:     "http://localhost:9200",
				Index:   "metastore",
				Timeout: 10 * time.Second,
			},
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Subject: "metastore",
				Timeout: 5 * time.Second,
			},
			Exclude: []string{DataOrganizationNamespace},
		},
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port %d out of range", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.Port {
		return fmt.Errorf("server.metrics_port must differ from server.port")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case BackendMongo:
		if c.Store.Mongo.URL == "" || c.Store.Mongo.Database == "" || c.Store.Mongo.Collection == "" {
			return fmt.Errorf("store.mongo needs url, database and collection")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, sqlite, mongo", c.Store.Backend)
	}
	if c.Store.Timeout < 0 || c.Store.RetryDelay < 0 || c.Store.CreateRetries < 0 {
		return fmt.Errorf("store timeout, retry_delay and create_retries must not be negative")
	}

	if c.Composite.Namespace == "" || c.Composite.Wrapper == "" {
		return fmt.Errorf("composite.namespace and composite.wrapper are required")
	}
	for prefix, file := range c.Bootstrap.Schemas {
		if prefix == "" || file == "" {
			return fmt.Errorf("bootstrap.schemas entries need a prefix and a file")
		}
	}

	switch c.Search.Provider {
	case ProviderNone:
	case ProviderElastic:
		if c.Search.Elasticsearch.URL == "" || c.Search.Elasticsearch.Index == "" {
			return fmt.Errorf("search.elasticsearch needs url and index")
		}
	case ProviderNATS:
		if c.Search.NATS.URL == "" {
			return fmt.Errorf("search.nats.url is required")
		}
	default:
		return fmt.Errorf("search.provider %q is not one of elasticsearch, nats", c.Search.Provider)
	}
	for prefix, paths := range c.Search.Transforms {
		if len(paths) == 0 {
			return fmt.Errorf("search.transforms.%s lists no paths", prefix)
		}
	}
	return nil
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ParseSchemaFlag splits a prefix=file (or prefix:file) bootstrap entry
func ParseSchemaFlag(s string) (prefix, file string, err error) {
	i := strings.IndexAny(s, "=:")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("schema %q is not prefix=file", s)
	}
	return s[:i], s[i+1:], nil
}
