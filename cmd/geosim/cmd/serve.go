package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/internal/config"
	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/internal/host"
	"github.com/butlergreece/capacitor-geolocation/pkg/errors"
)

func init() {
	RegisterCommand(&Command{
		Name:  "serve",
		Short: "Serve a simulated location host over a websocket",
		Long: `Start a websocket server speaking the plugin's host frame protocol.

The server answers the provider method channel (authorization checks,
prompts, fix requests, monitoring control) and streams position fixes on
the updates channel while a monitoring session is active. Authorization
behavior and the fix source are scripted through geosim.yaml.

Flags:
  --addr ADDR      Listen address (default ` + config.DefaultListen + `)
  --config FILE    Path to a scenario file (default ./geosim.yaml)
  --verbose        Enable debug logging`,
		Usage: "geosim serve [--addr ADDR] [--config FILE] [--verbose]",
		Run:   runServe,
	})
}

func runServe(args []string) error {
	var addr, configPath string
	verbose := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			if i+1 >= len(args) {
				return fmt.Errorf("--addr requires a value")
			}
			i++
			addr = args[i]
		case "--config":
			if i+1 >= len(args) {
				return fmt.Errorf("--config requires a value")
			}
			i++
			configPath = args[i]
		case "--verbose":
			verbose = true
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	var res *config.Resolved
	var err error
	if configPath != "" {
		cfg, cfgErr := config.LoadFile(configPath)
		if cfgErr != nil {
			return cfgErr
		}
		res, err = config.Resolve(filepath.Dir(configPath))
		if err != nil {
			return err
		}
		res.Config = cfg
		if l := strings.TrimSpace(cfg.Listen); l != "" {
			res.Listen = l
		}
	} else {
		res, err = config.Resolve(".")
		if err != nil {
			return err
		}
	}
	if addr != "" {
		res.Listen = addr
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	errors.SetHandler(errors.NewSlogHandler(logger))

	server, err := host.NewServer(res.Config, logger)
	if err != nil {
		return err
	}

	logger.Info("geosim listening",
		"addr", res.Listen,
		"app", res.AppID,
		"source", server.SourceName(),
	)
	return http.ListenAndServe(res.Listen, server)
}
