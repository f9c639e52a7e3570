package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/stratumops/quotawarden/internal/config"
)

const redacted = "[redacted]"

func main() {
	configFile := flag.String("config", "", "path to a config file (defaults to the standard search path)")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redactSecrets(cfg)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

func redactSecrets(cfg *config.Config) {
	if cfg.Database.URL != "" {
		cfg.Database.URL = redacted
	}
	if cfg.Redis.URL != "" {
		cfg.Redis.URL = redacted
	}
	if cfg.AccessControl.SecretAccessKey != "" {
		cfg.AccessControl.SecretAccessKey = redacted
	}
	for i := range cfg.Bootstrap.AdminKeys {
		if cfg.Bootstrap.AdminKeys[i].Secret != "" {
			cfg.Bootstrap.AdminKeys[i].Secret = redacted
		}
	}
}
