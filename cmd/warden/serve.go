package warden

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/warden/pkg/config"
	"github.com/igorsilveira/warden/pkg/remote"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remote sandboxing service",
	RunE:  runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The service always executes locally; forwarding to another service
	// would loop.
	a, err := setup(ctx, nil, config.BackendLocal)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	floor, _ := cfg.ServerFloor()

	token := os.Getenv(cfg.Server.AuthTokenEnv)
	if token == "" && !remote.IsLoopbackBind(cfg.Server.Bind) {
		return fmt.Errorf("refusing to listen on %q without an auth token in $%s", cfg.Server.Bind, cfg.Server.AuthTokenEnv)
	}

	srv := remote.NewServer(remote.ServerConfig{
		Bind:      cfg.Server.Bind,
		Port:      port,
		AuthToken: token,
		Factory:   a.factory,
		Shell:     cfg.Shell.Interpreter,
		Floor:     floor,
		Logger:    a.logger,
	})

	a.logger.Info("starting warden service",
		slog.String("version", version),
		slog.String("addr", srv.Addr()),
		slog.String("isolation", cfg.Shell.Isolation),
		slog.String("floor", floor.String()),
	)
	return srv.Start(ctx)
}
