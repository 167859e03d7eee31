package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"

	blockrpc "github.com/austinabell/graphql-ipld/internal/blockrpc"
	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
	eventbus "github.com/austinabell/graphql-ipld/internal/eventbus"
	ident "github.com/austinabell/graphql-ipld/internal/ident"
	introspection "github.com/austinabell/graphql-ipld/internal/introspection"
	ipldql "github.com/austinabell/graphql-ipld/internal/ipldql"
	otel "github.com/austinabell/graphql-ipld/internal/otel"
	schema "github.com/austinabell/graphql-ipld/internal/schema"
	server "github.com/austinabell/graphql-ipld/internal/server"
)

const rootUsage = `graphql-ipld: GraphQL queries over content-addressed IPLD blocks

USAGE:
  graphql-ipld <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL endpoint over a block store
  serve-blocks     Serve a block store over gRPC
  compile-sdl      Print the GraphQL schema
  compile-proto    Write the block service .proto file
  help             Show help for any command
`

const storeUsage = `  -store.backend <name>               memory, badger or remote (default: memory)
  -store.dir <dir>                    Badger data directory (required for badger)
  -store.remote <host:port>           Block service endpoint. Repeatable (required for remote)
  -store.hash <name>                  blake2b-256, sha2-256 or blake3 (default: blake2b-256)
  -store.preserve-map-order           Keep map entries in insertion order
  -store.verify                       Verify block digests on read
  -store.rpc-timeout <duration>       Remote RPC timeout (default: 3s)
  -store.max-conns-per-endpoint N     Max connections per remote endpoint (default: 2)
  -log.level <level>                  debug, info, warn or error (default: info)
  -log.format <format>                text or json (default: text)
  -config <file>                      YAML file supplying defaults for these flags
`

const serveUsage = `serve FLAGS:
  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout (default: 10s)
  -server.max-body <bytes>            Request body limit (default: 1048576)
  -server.cors <origin>               Allowed CORS origin. Repeatable
  -server.metadata-header <name>      Forward HTTP header to the remote block service. Repeatable
  -server.graphiql <bool>             Serve GraphiQL to browsers (default: true)
  -graphql.max-parallel N             Concurrent block loads per batch (default: 16)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: graphql-ipld)
` + storeUsage

const serveBlocksUsage = `serve-blocks FLAGS:
  -blocks.addr <addr>                 gRPC listen address (default: :9090)
` + storeUsage

const compileSDLUsage = `compile-sdl FLAGS:
  -out <file>              Write SDL to file (default: stdout)
`

const compileProtoUsage = `compile-proto FLAGS:
  -out <dir>               Output directory for the .proto file (required)
`

type app struct {
	stdout io.Writer
	stderr io.Writer
	// ready receives the bound address once a server is listening.
	ready func(addr net.Addr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "graphql-ipld:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "serve":
		return a.cmdServe(ctx, cmdArgs)
	case "serve-blocks":
		return a.cmdServeBlocks(ctx, cmdArgs)
	case "compile-sdl":
		return a.cmdCompileSDL(cmdArgs)
	case "compile-proto":
		return a.cmdCompileProto(cmdArgs)
	case "help", "-h", "--help":
		return a.cmdHelp(cmdArgs)
	default:
		fmt.Fprint(a.stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(a.stdout, serveUsage)
	case "serve-blocks":
		fmt.Fprint(a.stdout, serveBlocksUsage)
	case "compile-sdl":
		fmt.Fprint(a.stdout, compileSDLUsage)
	case "compile-proto":
		fmt.Fprint(a.stdout, compileProtoUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func (a *app) flagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() { fmt.Fprint(a.stderr, usage) }
	return fs
}

// parseServe loads the config file and applies serve flags over it.
func (a *app) parseServe(args []string) (Config, error) {
	cfg, err := loadConfig(configPath(args))
	if err != nil {
		return cfg, err
	}
	fs := a.flagSet("serve", serveUsage)
	fs.String("config", "", "YAML config file")
	fs.StringVar(&cfg.Server.Addr, "server.addr", cfg.Server.Addr, "HTTP listen address")
	fs.BoolVar(&cfg.Server.Pretty, "server.pretty", cfg.Server.Pretty, "Pretty-print JSON responses")
	fs.DurationVar(&cfg.Server.Timeout, "server.timeout", cfg.Server.Timeout, "Per-request timeout")
	fs.Int64Var(&cfg.Server.MaxBody, "server.max-body", cfg.Server.MaxBody, "Request body limit")
	fs.Var(&listFlag{values: &cfg.Server.CORS}, "server.cors", "Allowed CORS origin")
	fs.Var(&listFlag{values: &cfg.Server.MetadataHeaders}, "server.metadata-header", "Forwarded HTTP header")
	fs.BoolVar(&cfg.Server.GraphiQL, "server.graphiql", cfg.Server.GraphiQL, "Serve GraphiQL")
	fs.IntVar(&cfg.GraphQL.MaxParallel, "graphql.max-parallel", cfg.GraphQL.MaxParallel, "Concurrent block loads per batch")
	fs.StringVar(&cfg.Otel.Endpoint, "otel.endpoint", cfg.Otel.Endpoint, "OTLP collector endpoint")
	fs.StringVar(&cfg.Otel.Service, "otel.service", cfg.Otel.Service, "OpenTelemetry service name")
	bindStore(fs, &cfg.Store)
	bindLog(fs, &cfg.Log)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, nil
}

func (a *app) cmdServe(ctx context.Context, args []string) error {
	cfg, err := a.parseServe(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	shutdownTracing, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	handler, closeStore, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mux := http.NewServeMux()
	mux.Handle("/graphql", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("graphql server listening",
		slog.String("addr", lis.Addr().String()),
		slog.String("backend", cfg.Store.Backend))
	if a.ready != nil {
		a.ready(lis.Addr())
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildHandler wires the configured store into the GraphQL handler. The
// returned function closes the store.
func buildHandler(cfg Config, logger *slog.Logger) (http.Handler, func() error, error) {
	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	sch, err := ipldql.Schema()
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("build schema: %w", err)
	}
	wrapped, err := introspection.Wrap(ipldql.NewRuntime(store,
		ipldql.WithMaxParallel(cfg.GraphQL.MaxParallel),
		ipldql.WithLogger(logger)), sch)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("build schema: %w", err)
	}

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBody),
		server.WithGraphiQL(cfg.Server.GraphiQL),
		server.WithLogger(logger),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.CORS) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORS...))
	}
	if len(cfg.Server.MetadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.Server.MetadataHeaders...))
	}
	h, err := server.New(wrapped.Runtime, wrapped.Schema, sopts...)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("server init: %w", err)
	}
	return h, store.Close, nil
}

func openBackend(c StoreConfig) (blockstore.Backend, error) {
	switch c.Backend {
	case "memory":
		return blockstore.NewMemory(), nil
	case "badger":
		if c.Dir == "" {
			return nil, fmt.Errorf("-store.dir is required for the badger backend")
		}
		return blockstore.OpenBadger(c.Dir)
	case "remote":
		if len(c.Remote) == 0 {
			return nil, fmt.Errorf("-store.remote is required for the remote backend")
		}
		return blockrpc.NewClient(
			blockrpc.WithEndpoints(c.Remote...),
			blockrpc.WithRPCTimeout(c.RPCTimeout),
			blockrpc.WithMaxConnsPerEndpoint(c.MaxConns))
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Backend)
}

func openStore(c StoreConfig, logger *slog.Logger) (*blockstore.Store, error) {
	hash, err := ident.ParseHash(c.Hash)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(c)
	if err != nil {
		return nil, err
	}
	return blockstore.New(backend,
		blockstore.WithHash(hash),
		blockstore.WithPreserveMapOrder(c.PreserveMapOrder),
		blockstore.WithVerify(c.Verify),
		blockstore.WithLogger(logger)), nil
}

func (a *app) parseServeBlocks(args []string) (Config, error) {
	cfg, err := loadConfig(configPath(args))
	if err != nil {
		return cfg, err
	}
	fs := a.flagSet("serve-blocks", serveBlocksUsage)
	fs.String("config", "", "YAML config file")
	fs.StringVar(&cfg.Blocks.Addr, "blocks.addr", cfg.Blocks.Addr, "gRPC listen address")
	bindStore(fs, &cfg.Store)
	bindLog(fs, &cfg.Log)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Store.Backend == "remote" {
		return cfg, fmt.Errorf("serve-blocks needs a local backend, got remote")
	}
	return cfg, nil
}

func (a *app) cmdServeBlocks(ctx context.Context, args []string) error {
	cfg, err := a.parseServeBlocks(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	backend, err := openBackend(cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	bs, err := blockrpc.NewServer(backend, blockrpc.WithServerLogger(logger))
	if err != nil {
		return err
	}
	gs := grpc.NewServer()
	bs.Register(gs)

	lis, err := net.Listen("tcp", cfg.Blocks.Addr)
	if err != nil {
		return err
	}
	logger.Info("block service listening",
		slog.String("addr", lis.Addr().String()),
		slog.String("backend", cfg.Store.Backend))
	if a.ready != nil {
		a.ready(lis.Addr())
	}

	errc := make(chan error, 1)
	go func() { errc <- gs.Serve(lis) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	gs.GracefulStop()
	return <-errc
}

func (a *app) cmdCompileSDL(args []string) error {
	outFile := ""
	fs := a.flagSet("compile-sdl", compileSDLUsage)
	fs.StringVar(&outFile, "out", outFile, "Write SDL to file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sch, err := ipldql.Schema()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	sdl := schema.Render(sch)
	if outFile == "" {
		_, err := io.WriteString(a.stdout, sdl)
		return err
	}
	return os.WriteFile(outFile, []byte(sdl), 0644)
}

func (a *app) cmdCompileProto(args []string) error {
	outDir := ""
	fs := a.flagSet("compile-proto", compileProtoUsage)
	fs.StringVar(&outDir, "out", outDir, "Output directory for the .proto file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if outDir == "" {
		fmt.Fprint(a.stderr, compileProtoUsage)
		return fmt.Errorf("-out is required")
	}
	fp, err := blockrpc.WriteProtoFile(outDir)
	if err != nil {
		return fmt.Errorf("render proto: %w", err)
	}
	fmt.Fprintln(a.stdout, filepath.ToSlash(fp))
	return nil
}
