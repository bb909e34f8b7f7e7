// Package config loads retrievald configuration from YAML with
// RETRIEVAL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/photo-retrieval/internal/logging"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
	"github.com/danielpatrickdp/photo-retrieval/internal/storage"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

// #region types
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Engine    EngineConfig    `yaml:"engine"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ArtifactsConfig locates distance matrix files. Backend is "local"
// (files under Root) or "s3".
type ArtifactsConfig struct {
	Backend   string `yaml:"backend"`
	Root      string `yaml:"root"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type EngineConfig struct {
	Strategy          string  `yaml:"strategy"`
	MaxIteration      int     `yaml:"max_iteration"`
	MaxIterationFaces int     `yaml:"max_iteration_faces"`
	KeepFraction      float64 `yaml:"keep_fraction"`
	MaxDistance       float64 `yaml:"max_distance"`
	KernelEpsilon     float64 `yaml:"kernel_epsilon"`
}

type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
// #endregion types

// #region defaults
// Default returns the built-in configuration.
func Default() Config {
	sc := strategy.DefaultConfig()
	ec := session.DefaultConfig()
	return Config{
		Database:  DatabaseConfig{Path: "retrieval.db"},
		Artifacts: ArtifactsConfig{Backend: "local", Root: "data"},
		Engine: EngineConfig{
			Strategy:          ec.Strategy,
			MaxIteration:      ec.MaxIteration,
			MaxIterationFaces: ec.MaxIterationFaces,
			KeepFraction:      sc.KeepFraction,
			MaxDistance:       sc.MaxDistance,
			KernelEpsilon:     sc.Epsilon,
		},
		Server: ServerConfig{GRPCAddr: "localhost:50061", MetricsAddr: ":9109"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}
// #endregion defaults

// #region load
// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Database.Path = envOr("RETRIEVAL_DB", c.Database.Path)
	c.Artifacts.Backend = envOr("RETRIEVAL_ARTIFACTS_BACKEND", c.Artifacts.Backend)
	c.Artifacts.Root = envOr("RETRIEVAL_ARTIFACTS_ROOT", c.Artifacts.Root)
	c.Artifacts.Bucket = envOr("RETRIEVAL_S3_BUCKET", c.Artifacts.Bucket)
	c.Artifacts.Prefix = envOr("RETRIEVAL_S3_PREFIX", c.Artifacts.Prefix)
	c.Artifacts.Region = envOr("RETRIEVAL_S3_REGION", c.Artifacts.Region)
	c.Artifacts.Endpoint = envOr("RETRIEVAL_S3_ENDPOINT", c.Artifacts.Endpoint)
	c.Artifacts.AccessKey = envOr("RETRIEVAL_S3_ACCESS_KEY", c.Artifacts.AccessKey)
	c.Artifacts.SecretKey = envOr("RETRIEVAL_S3_SECRET_KEY", c.Artifacts.SecretKey)
	c.Engine.Strategy = envOr("RETRIEVAL_STRATEGY", c.Engine.Strategy)
	c.Server.GRPCAddr = envOr("RETRIEVAL_GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.MetricsAddr = envOr("RETRIEVAL_METRICS_ADDR", c.Server.MetricsAddr)
	c.Log.Level = envOr("RETRIEVAL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("RETRIEVAL_LOG_FORMAT", c.Log.Format)

	var err error
	if c.Engine.MaxIteration, err = envInt("RETRIEVAL_MAX_ITERATION", c.Engine.MaxIteration); err != nil {
		return err
	}
	if c.Engine.MaxIterationFaces, err = envInt("RETRIEVAL_MAX_ITERATION_FACES", c.Engine.MaxIterationFaces); err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
// #endregion load

// #region validate
// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Artifacts.Backend {
	case "local":
		if c.Artifacts.Root == "" {
			errs = append(errs, errors.New("artifacts.root is required for the local backend"))
		}
	case "s3":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, errors.New("artifacts.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend %q: want local or s3", c.Artifacts.Backend))
	}
	if _, err := strategy.ParseKind(c.Engine.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("engine.strategy: %w", err))
	}
	if c.Engine.MaxIteration < 1 {
		errs = append(errs, fmt.Errorf("engine.max_iteration %d < 1", c.Engine.MaxIteration))
	}
	if c.Engine.MaxIterationFaces < 1 {
		errs = append(errs, fmt.Errorf("engine.max_iteration_faces %d < 1", c.Engine.MaxIterationFaces))
	}
	if err := c.StrategyConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Server.GRPCAddr == "" {
		errs = append(errs, errors.New("server.grpc_addr is required"))
	}
	return errors.Join(errs...)
}
// #endregion validate

// #region views
func (c Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		KeepFraction: c.Engine.KeepFraction,
		MaxDistance:  c.Engine.MaxDistance,
		Epsilon:      c.Engine.KernelEpsilon,
	}
}

func (c Config) SessionConfig() session.Config {
	return session.Config{
		MaxIteration:      c.Engine.MaxIteration,
		MaxIterationFaces: c.Engine.MaxIterationFaces,
		Strategy:          c.Engine.Strategy,
	}
}

func (c Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// OpenStore opens the configured artifact store.
func (c Config) OpenStore() (storage.FileStore, error) {
	a := c.Artifacts
	if a.Backend == "s3" {
		client := storage.NewS3Client(a.Region, a.Endpoint, a.AccessKey, a.SecretKey)
		return storage.NewS3(client, a.Bucket, a.Prefix), nil
	}
	return storage.NewLocal(a.Root)
}
// #endregion views
