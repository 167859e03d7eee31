package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the command-line flags. A YAML file passed with -config
// supplies the defaults; flags given on the command line win.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	GraphQL GraphQLConfig `yaml:"graphql"`
	Blocks  BlocksConfig  `yaml:"blocks"`
	Otel    OtelConfig    `yaml:"otel"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Pretty          bool          `yaml:"pretty"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxBody         int64         `yaml:"max_body"`
	CORS            []string      `yaml:"cors"`
	MetadataHeaders []string      `yaml:"metadata_headers"`
	GraphiQL        bool          `yaml:"graphiql"`
}

type StoreConfig struct {
	// Backend is one of memory, badger or remote.
	Backend          string        `yaml:"backend"`
	Dir              string        `yaml:"dir"`
	Remote           []string      `yaml:"remote"`
	Hash             string        `yaml:"hash"`
	PreserveMapOrder bool          `yaml:"preserve_map_order"`
	Verify           bool          `yaml:"verify"`
	RPCTimeout       time.Duration `yaml:"rpc_timeout"`
	MaxConns         int           `yaml:"max_conns_per_endpoint"`
}

type GraphQLConfig struct {
	MaxParallel int `yaml:"max_parallel"`
}

type BlocksConfig struct {
	Addr string `yaml:"addr"`
}

type OtelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:     ":8080",
			Timeout:  10 * time.Second,
			MaxBody:  1 << 20,
			GraphiQL: true,
		},
		Store: StoreConfig{
			Backend:    "memory",
			Hash:       "blake2b-256",
			RPCTimeout: 3 * time.Second,
			MaxConns:   2,
		},
		GraphQL: GraphQLConfig{MaxParallel: 16},
		Blocks:  BlocksConfig{Addr: ":9090"},
		Otel:    OtelConfig{Service: "graphql-ipld"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// loadConfig reads path over the defaults. Unknown keys are an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// configPath finds the -config value before the flag set exists, so the
// file can provide flag defaults.
func configPath(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// listFlag is a repeatable flag. The first occurrence replaces the
// configured list instead of appending to it.
type listFlag struct {
	values *[]string
	set    bool
}

func (l *listFlag) String() string {
	if l.values == nil {
		return ""
	}
	return strings.Join(*l.values, ",")
}

func (l *listFlag) Set(v string) error {
	if !l.set {
		*l.values = nil
		l.set = true
	}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l.values = append(*l.values, part)
		}
	}
	return nil
}

func bindStore(fs *flag.FlagSet, c *StoreConfig) {
	fs.StringVar(&c.Backend, "store.backend", c.Backend, "Block backend: memory, badger or remote")
	fs.StringVar(&c.Dir, "store.dir", c.Dir, "Badger data directory")
	fs.Var(&listFlag{values: &c.Remote}, "store.remote", "Remote block service endpoint. Repeatable")
	fs.StringVar(&c.Hash, "store.hash", c.Hash, "Hash function for new identifiers")
	fs.BoolVar(&c.PreserveMapOrder, "store.preserve-map-order", c.PreserveMapOrder, "Keep map entries in insertion order")
	fs.BoolVar(&c.Verify, "store.verify", c.Verify, "Verify block digests on read")
	fs.DurationVar(&c.RPCTimeout, "store.rpc-timeout", c.RPCTimeout, "Remote block service RPC timeout")
	fs.IntVar(&c.MaxConns, "store.max-conns-per-endpoint", c.MaxConns, "Max connections per remote endpoint")
}

func bindLog(fs *flag.FlagSet, c *LogConfig) {
	fs.StringVar(&c.Level, "log.level", c.Level, "Log level: debug, info, warn or error")
	fs.StringVar(&c.Format, "log.format", c.Format, "Log format: text or json")
}

func newLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("invalid -log.level %q", c.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid -log.format %q", c.Format)
}
