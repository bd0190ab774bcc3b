package commands

import (
	"github.com/protomake/pulse/internal/client"
	"github.com/protomake/pulse/internal/logger"
)

type Globals struct {
	Debug   bool
	Version string
}

func newClient(serverURL string, globals *Globals) *client.Client {
	log := logger.Setup(globals.Debug)
	return client.New(serverURL, client.WithLogger(log))
}
