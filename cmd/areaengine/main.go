// Command areaengine runs the AREA hook engine: the owner API, webhook
// intake, the polling scheduler and the reaction workers.
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-area-backend/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		log.Error().Err(err).Msg("areaengine")
		os.Exit(1)
	}
}
