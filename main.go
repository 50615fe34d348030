package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/hazyhaar/pkg/audit"

	"github.com/hazyhaar/dbfleet/internal/api"
	"github.com/hazyhaar/dbfleet/internal/auth"
	"github.com/hazyhaar/dbfleet/internal/config"
	"github.com/hazyhaar/dbfleet/internal/mcp"
	"github.com/hazyhaar/dbfleet/internal/migrate"
	"github.com/hazyhaar/dbfleet/internal/platform"
	"github.com/hazyhaar/dbfleet/internal/provision"
	"github.com/hazyhaar/dbfleet/internal/registry"
	"github.com/hazyhaar/dbfleet/internal/schema"
	"github.com/hazyhaar/dbfleet/internal/tenant"
	"github.com/hazyhaar/dbfleet/pkg/trace"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "provision":
		cmdProvision(os.Args[2:])
	case "sync":
		cmdSync(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "version":
		fmt.Printf("dbfleet %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`dbfleet — per-tenant database provisioning and schema sync

Usage:
  dbfleet serve [--config config.toml] [--addr :8080]
  dbfleet provision <tenant-id> <contact> [--config config.toml]
  dbfleet sync <tenant-id> [--config config.toml]
  dbfleet mcp [--config config.toml]
  dbfleet version
  dbfleet help

Commands:
  serve      Start the HTTP server
  provision  Create and initialize a tenant database
  sync       Converge an existing tenant database to the current schema
  mcp        Serve fleet tools over MCP stdio
  version    Print version
  help       Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	orch, reg, traces := buildFleet(cfg)
	defer reg.Close()
	defer traces.Close()

	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	apiHandler := api.New(orch, reg, a)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	if cfg.MCP.Enabled {
		auditLog := audit.NewSQLiteLogger(reg.DB())
		if err := auditLog.Init(); err != nil {
			log.Fatalf("initializing audit log: %v", err)
		}
		defer auditLog.Close()

		srv := mcp.NewServer(orch, reg, auditLog)
		go func() {
			if err := mcpserver.ServeStdio(srv); err != nil {
				log.Printf("mcp server stopped: %v", err)
			}
		}()
		log.Printf("mcp: serving admin tools on stdio")
	}

	log.Printf("dbfleet %s listening on %s", version, cfg.Server.Addr)
	log.Printf("registry: %s", cfg.Registry.URL)
	log.Printf("platform: %s (org %s, group %s)", cfg.Platform.APIURL, cfg.Platform.Org, cfg.Platform.Group)

	if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdProvision(args []string) {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	rest, err := splitFlags(fs, args, 2)
	if err != nil {
		log.Fatalf("usage: dbfleet provision <tenant-id> <contact>: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	orch, reg, traces := buildFleet(cfg)
	defer reg.Close()
	defer traces.Close()

	entry, err := orch.Provision(context.Background(), rest[0], rest[1])
	if err != nil {
		log.Fatalf("provisioning %s: %v", rest[0], err)
	}
	printJSON(entry)
}

func cmdSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	rest, err := splitFlags(fs, args, 1)
	if err != nil {
		log.Fatalf("usage: dbfleet sync <tenant-id>: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	orch, reg, traces := buildFleet(cfg)
	defer reg.Close()
	defer traces.Close()

	entry, err := orch.Sync(context.Background(), rest[0])
	if errors.Is(err, registry.ErrNotFound) {
		log.Fatalf("tenant %s is not provisioned; run: dbfleet provision %s <contact>", rest[0], rest[0])
	}
	if err != nil {
		log.Fatalf("syncing %s: %v", rest[0], err)
	}
	printJSON(entry)
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	orch, reg, traces := buildFleet(cfg)
	defer reg.Close()
	defer traces.Close()

	auditLog := audit.NewSQLiteLogger(reg.DB())
	if err := auditLog.Init(); err != nil {
		log.Fatalf("initializing audit log: %v", err)
	}
	defer auditLog.Close()

	srv := mcp.NewServer(orch, reg, auditLog)
	if err := mcpserver.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

// buildFleet wires the registry, DDL trace store, migration runner, and
// platform client into an orchestrator. Callers close the registry and
// trace store when done.
func buildFleet(cfg *config.Config) (*provision.Orchestrator, *registry.Registry, *trace.Store) {
	reg, err := registry.Open(cfg.Registry.Driver, cfg.Registry.URL, cfg.Registry.Token)
	if err != nil {
		log.Fatalf("opening registry: %v", err)
	}

	traces := trace.NewStore(reg.DB())
	if err := traces.Init(); err != nil {
		log.Fatalf("initializing trace store: %v", err)
	}

	runner, err := migrate.New(schema.Expected(), schema.CurrentVersion(), migrate.WithRecorder(traces))
	if err != nil {
		log.Fatalf("invalid canonical schema: %v", err)
	}

	client := platform.New(cfg.Platform.APIURL, cfg.Platform.Org, cfg.Platform.APIToken)

	orch := provision.New(provision.Options{
		Platform:           client,
		Registry:           reg,
		Runner:             runner,
		Opener:             &tenant.DriverOpener{Driver: cfg.Tenant.Driver},
		Group:              cfg.Platform.Group,
		TokenExpiration:    cfg.Platform.TokenExpiration,
		TokenAuthorization: cfg.Platform.TokenAuthorization,
		URLScheme:          cfg.Platform.URLScheme,
	})
	return orch, reg, traces
}

// splitFlags parses flags that may follow positional arguments and
// returns the required positionals.
func splitFlags(fs *flag.FlagSet, args []string, want int) ([]string, error) {
	var positional []string
	for len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		positional = append(positional, args[0])
		args = args[1:]
	}
	fs.Parse(args)
	positional = append(positional, fs.Args()...)
	if len(positional) < want {
		return nil, fmt.Errorf("expected %d arguments, got %d", want, len(positional))
	}
	return positional, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
