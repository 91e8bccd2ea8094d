// Command pository runs the artifact repository service, and offers
// companion commands for signing a Release file and managing API keys
// outside the running server.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/pository/pository/internal/api"
	"github.com/pository/pository/internal/authkey"
	"github.com/pository/pository/internal/authz"
	"github.com/pository/pository/internal/config"
	"github.com/pository/pository/internal/deb"
	"github.com/pository/pository/internal/events"
	"github.com/pository/pository/internal/metrics"
	"github.com/pository/pository/internal/oidc"
	"github.com/pository/pository/internal/signing"
	"github.com/pository/pository/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "sign":
		runSign(os.Args[2:])
	case "keys":
		runKeys(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: pository <command> [flags]")
	fmt.Println("\nCommands:")
	fmt.Println("  serve    Run the artifact repository server")
	fmt.Println("  sign     Clearsign a Release file into InRelease")
	fmt.Println("  keys     Create, list, or revoke API keys")
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the YAML configuration file")
	fs.Parse(args)

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogPath)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	keys, err := authkey.NewStore(cfg.APIKeysPath, cfg.AdminKey)
	if err != nil {
		log.Fatalf("load key store: %v", err)
	}

	bus := events.New()
	store := storage.New(cfg.DataRoot, bus, deb.FallbackExtract)

	var verifier *oidc.Verifier
	if cfg.OIDCAudience != "" {
		verifier = oidc.NewVerifier(
			"https://token.actions.githubusercontent.com",
			"https://token.actions.githubusercontent.com/.well-known/jwks",
			cfg.OIDCAudience,
		)
	}
	authzCfg := authz.Config{
		AllowedOwners:  cfg.OIDCAllowedOwners,
		RequirePrivate: cfg.OIDCRequirePrivate,
		Overrides:      cfg.OIDCOverrides,
	}

	reg := metrics.New()
	reg.SubscribeStorageStats(bus, store.GetStorageStats)
	srv := api.NewServer(cfg, store, keys, verifier, authzCfg, reg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	logger.Info("starting pository", zap.String("addr", addr), zap.String("dataRoot", cfg.DataRoot))

	var serveErr error
	if cfg.TLS.Enabled {
		serveErr = http.ListenAndServeTLS(addr, cfg.TLS.Cert, cfg.TLS.Key, srv)
	} else {
		serveErr = http.ListenAndServe(addr, srv)
	}
	if serveErr != nil {
		logger.Fatal("server exited", zap.Error(serveErr))
	}
}

// resolveConfigPath honors, in order, an explicit --config flag, the
// POSITORY_CONFIG environment variable, then the default config location.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("POSITORY_CONFIG"); v != "" {
		return v
	}
	return "/etc/pository/config.yaml"
}

func runSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	releasePath := fs.String("release", "", "Path to the rendered Release file")
	keyPath := fs.String("key", "", "Path to an armored PGP private key")
	outPath := fs.String("out", "", "Path to write the signed InRelease document")
	pubOut := fs.String("pubkey-out", "", "Optional path to write the armored public key")
	fs.Parse(args)

	if *releasePath == "" || *keyPath == "" || *outPath == "" {
		log.Fatal("--release, --key and --out are required")
	}

	release, err := os.ReadFile(*releasePath)
	if err != nil {
		log.Fatalf("read release: %v", err)
	}
	armoredKey, err := os.ReadFile(*keyPath)
	if err != nil {
		log.Fatalf("read key: %v", err)
	}

	signed, err := signing.ClearSign(release, string(armoredKey))
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	if err := os.WriteFile(*outPath, signed, 0644); err != nil {
		log.Fatalf("write signed release: %v", err)
	}

	if *pubOut != "" {
		pub, err := signing.PublicKey(string(armoredKey))
		if err != nil {
			log.Fatalf("extract public key: %v", err)
		}
		if err := os.WriteFile(*pubOut, pub, 0644); err != nil {
			log.Fatalf("write public key: %v", err)
		}
	}
	fmt.Println("Signed InRelease written to", *outPath)
}

func runKeys(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: pository keys <create|list|revoke> [flags]")
	}

	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	keysPath := fs.String("keys-path", "/etc/pository/keys.json", "Path to the key store file")

	switch args[0] {
	case "create":
		role := fs.String("role", "read", "Key role: read, write, or admin")
		description := fs.String("description", "", "Human-readable description")
		fs.Parse(args[1:])

		store, err := authkey.NewStore(*keysPath, "")
		if err != nil {
			log.Fatalf("load key store: %v", err)
		}
		id, secret, err := store.CreateKey(authkey.Role(*role), *description, nil)
		if err != nil {
			log.Fatalf("create key: %v", err)
		}
		fmt.Printf("id:     %s\nsecret: %s\n", id, secret)

	case "list":
		fs.Parse(args[1:])
		store, err := authkey.NewStore(*keysPath, "")
		if err != nil {
			log.Fatalf("load key store: %v", err)
		}
		for _, k := range store.ListKeys() {
			fmt.Printf("%s\t%s\t%s\n", k.ID, k.Role, k.Description)
		}

	case "revoke":
		id := fs.String("id", "", "Key id to revoke")
		fs.Parse(args[1:])
		if *id == "" {
			log.Fatal("--id is required")
		}
		store, err := authkey.NewStore(*keysPath, "")
		if err != nil {
			log.Fatalf("load key store: %v", err)
		}
		found, err := store.DeleteKey(*id)
		if err != nil {
			log.Fatalf("revoke key: %v", err)
		}
		if !found {
			log.Fatalf("no such key: %s", *id)
		}
		fmt.Println("revoked", *id)

	default:
		log.Fatal("usage: pository keys <create|list|revoke> [flags]")
	}
}
