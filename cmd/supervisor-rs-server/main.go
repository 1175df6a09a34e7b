// Command supervisor-rs-server runs the supervisor daemon. With no
// argument it reads /tmp/server.yml.
package main

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/ccqpein/supervisor-rs/daemon"
)

const defaultConfigPath = "/tmp/server.yml"

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "supervisor-rs",
		Level: hclog.Info,
	})

	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	shell, err := daemon.NewShell(configPath, logger)
	if err != nil {
		logger.Error("boot failed", "error", err)
		os.Exit(1)
	}

	if err := shell.Run(); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}
