// rcwatch subscribes to a control plane and prints every config change it
// observes. Operator tool; the library surface lives under internal/.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	"github.com/jmespath/go-jmespath"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"rcsync/internal/client"
	"rcsync/internal/fetch"
	"rcsync/internal/products"
	"rcsync/internal/types"
)

const apiKeyEnv = "RC_API_KEY"

type settings struct {
	Service       string   `yaml:"service"`
	Env           string   `yaml:"env"`
	AppVersion    string   `yaml:"app_version"`
	RuntimeID     string   `yaml:"runtime_id"`
	Language      string   `yaml:"language"`
	TracerVersion string   `yaml:"tracer_version"`
	AgentURL      string   `yaml:"agent_url"`
	Products      []string `yaml:"products"`
	Capabilities  []uint32 `yaml:"capabilities"`
}

func main() {
	configPath := flag.String("config", "rcwatch.yaml", "path to the watch settings file")
	filterExpr := flag.String("filter", "", "optional JMESPath expression applied to decoded payloads")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}

	cfg, err := loadSettings(*configPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	var filter *jmespath.JMESPath
	if *filterExpr != "" {
		filter, err = jmespath.Compile(*filterExpr)
		if err != nil {
			log.Fatalf("invalid filter expression: %v", err)
		}
	}

	target := types.Target{
		Service:    cfg.Service,
		Env:        cfg.Env,
		AppVersion: cfg.AppVersion,
	}
	invariants := types.Invariants{
		Language:      cfg.Language,
		TracerVersion: cfg.TracerVersion,
		Endpoint: types.Endpoint{
			URL:    cfg.AgentURL,
			APIKey: os.Getenv(apiKeyEnv),
		},
		Products:     toProducts(cfg.Products),
		Capabilities: toCapabilities(cfg.Capabilities),
	}

	cl, err := client.New(target, invariants, cfg.RuntimeID, nil, func(change fetch.Change) {
		printChange(change, filter)
	})
	if err != nil {
		log.Fatalf("failed to build client: %v", err)
	}
	if err := cl.Start(); err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	log.WithFields(log.Fields{
		"target":   target.String(),
		"endpoint": cfg.AgentURL,
	}).Info("watching remote configuration")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	_ = cl.Stop()
}

func printChange(change fetch.Change, filter *jmespath.JMESPath) {
	fields := log.Fields{
		"kind":    change.Kind.String(),
		"path":    change.Path.String(),
		"version": change.Version,
	}
	if change.Kind == fetch.Update {
		fields["previous_version"] = change.PrevVersion
	}
	entry := log.WithFields(fields)

	if change.Kind == fetch.Remove || change.File == nil {
		entry.Info("config removed")
		return
	}
	contents := change.File.Contents()
	if contents.Err != nil {
		entry.WithError(contents.Err).Warn("config failed to parse")
		return
	}
	if filter != nil {
		v, err := filter.Search(contents.Data)
		if err != nil {
			entry.WithError(err).Warn("filter failed")
			return
		}
		if v == nil {
			return
		}
		b, _ := json.Marshal(v)
		entry.Info(string(b))
		return
	}
	entry.Info("config changed")
}

func loadSettings(path string) (settings, error) {
	var cfg settings
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Language == "" {
		cfg.Language = "go"
	}
	if cfg.TracerVersion == "" {
		cfg.TracerVersion = "0.0.0"
	}
	if cfg.RuntimeID == "" {
		cfg.RuntimeID = newRuntimeID()
	}
	if len(cfg.Products) == 0 {
		cfg.Products = []string{string(products.ApmTracing), string(products.LiveDebugging)}
	}
	return cfg, nil
}

func toProducts(names []string) []types.Product {
	out := make([]types.Product, 0, len(names))
	for _, n := range names {
		out = append(out, types.Product(n))
	}
	return out
}

func toCapabilities(raw []uint32) []types.Capability {
	out := make([]types.Capability, 0, len(raw))
	for _, c := range raw {
		out = append(out, types.Capability(c))
	}
	return out
}

func newRuntimeID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("rcwatch-%d", os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
