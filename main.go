package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/shipwatch/shipwatch/cmd"
	"github.com/shipwatch/shipwatch/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	// A .env file next to the binary may provide SHIPWATCH_* overrides,
	// such as Earthdata credentials, without putting them in config.yaml.
	_ = godotenv.Load()

	settings := &conf.Settings{Version: version, BuildDate: buildDate}
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
