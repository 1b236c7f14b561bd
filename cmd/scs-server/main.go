// Command scs-server is the shared context server's entry point: a small
// cobra root command (mirroring the jrschumacher-dis.quest cmd/root.go
// idiom) with start/healthcheck/migrate subcommands.
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/sharedcontext/server/cmd/scs-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
