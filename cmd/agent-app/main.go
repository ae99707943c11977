package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/config"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
)

var BuildVersion = "dev"

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()

	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := config.WriteDefault(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *conf == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	if *validate {
		fmt.Printf("Config OK: %s\n", *conf)
		return
	}

	log.LogInfoWithFields("main", "Starting agent-app", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	app, err := internal.NewApp(internal.AppAgent, cfg)
	if err != nil {
		log.LogError("Failed to build application: %v", err)
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		log.LogError("Application exited with error: %v", err)
		os.Exit(1)
	}
}
