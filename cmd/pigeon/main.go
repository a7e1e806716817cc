package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amoylab/pigeon/internal/broker"
	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/common/config"
	"github.com/amoylab/pigeon/internal/identity"
	"github.com/amoylab/pigeon/internal/server"
	"github.com/amoylab/pigeon/internal/session"
	"github.com/amoylab/pigeon/internal/template"
	"github.com/amoylab/pigeon/pkg/client"
	"github.com/amoylab/pigeon/pkg/helper"
	"github.com/amoylab/pigeon/pkg/logger"
	"github.com/amoylab/pigeon/pkg/metrics"
	"github.com/amoylab/pigeon/pkg/trace"
	"github.com/amoylab/pigeon/pkg/utils"
	"github.com/amoylab/pigeon/pkg/version"
)

var (
	configPath string
	pidFile    string
	serverURL  string
	timeout    time.Duration

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pigeon",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info(cnst.CommandName))
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Test the configuration file",
		Long:  "Load and validate the configuration file, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("configuration test failed for %s: %w", path, err)
			}
			fmt.Printf("configuration file %s test is successful (store=%s, identity=%s, id_bits=%d)\n",
				path, cfg.Session.Type, cfg.Session.Identity, cfg.Session.IDBits)
			return nil
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the running server",
		Long:  "Send SIGTERM to the process recorded in the PID file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm := utils.NewPIDManager(helper.GetPIDPath(pidFile))
			if err := pm.Signal(syscall.SIGTERM); err != nil {
				return err
			}
			fmt.Printf("sent SIGTERM to the process in %s\n", pm.GetPIDFile())
			return nil
		},
	}

	sendCmd = &cobra.Command{
		Use:   "send FROM TARGET MESSAGE",
		Short: "Send one message through a running server",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, timeout)
			if err := c.Send(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Println("delivered")
			return nil
		},
	}

	listenCmd = &cobra.Command{
		Use:   "listen [SESSION_ID]",
		Short: "Open a stream and print delivered messages",
		Long:  "Open a stream for SESSION_ID, or for a freshly issued id when omitted, and print every message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := client.New(serverURL, timeout)
			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				s, err := c.Start(ctx)
				if err != nil {
					return err
				}
				id = s.ID
			}
			fmt.Printf("listening as %s\n", id)

			err := c.Listen(ctx, id, func(ev client.Event) error {
				if !ev.KeepAlive {
					fmt.Println(ev.Data)
				}
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "Point-to-point message delivery over SSE",
		Long:  "pigeon delivers single messages between ephemeral sessions over server-sent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.PigeonYaml, "path to configuration file, like /etc/pigeon/pigeon.yaml")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid", "", "path to PID file")
	for _, cmd := range []*cobra.Command{sendCmd, listenCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:1370", "base URL of the server")
		cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	}
	rootCmd.AddCommand(versionCmd, testCmd, stopCmd, sendCmd, listenCmd)
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", cfgPath, err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Sync()

	lg.Info("Loaded configuration", zap.String("path", cfgPath))
	lg.Info("Starting pigeon", zap.String("version", version.Get()))

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			lg.Warn("failed to shutdown tracing", zap.Error(err))
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	registry, err := session.NewRegistry(ctx, lg, &cfg.Session, cfg.Delivery.SendTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize session registry: %w", err)
	}

	renderer, err := template.NewRenderer(cfg.Delivery.Template)
	if err != nil {
		_ = registry.Close()
		return fmt.Errorf("failed to parse delivery template: %w", err)
	}

	b := broker.New(lg, registry, renderer, m, broker.Options{
		SendTimeout:   cfg.Delivery.SendTimeout,
		KeepAlive:     cfg.Delivery.KeepAlive,
		KeepAliveText: cfg.Delivery.KeepAliveText,
		EchoToSender:  cfg.Delivery.EchoToSender,
	})
	defer func() {
		if err := b.Close(); err != nil {
			lg.Warn("failed to close session registry", zap.Error(err))
		}
	}()

	ids, err := identity.NewGenerator(cfg.Session.IDBits)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(lg, cfg, b, ids, m)
	if err != nil {
		return err
	}

	pidPath := helper.GetPIDPath(cfg.PID)
	if pidFile != "" {
		pidPath = helper.GetPIDPath(pidFile)
	}
	pm := utils.NewPIDManager(pidPath)
	if err := pm.WritePID(); err != nil {
		lg.Warn("failed to write PID file", zap.String("path", pidPath), zap.Error(err))
	} else {
		defer func() {
			if err := pm.RemovePID(); err != nil {
				lg.Warn("failed to remove PID file", zap.Error(err))
			}
		}()
	}

	srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	lg.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.Error("failed to shutdown server", zap.Error(err))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
