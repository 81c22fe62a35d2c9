// cmd/mtrelay/main.go
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
	"go.uber.org/zap/zapcore"

	"github.com/saba-futai/mtrelay/internal/app"
	"github.com/saba-futai/mtrelay/internal/config"
)

const shutdownGrace = 10 * time.Second

var (
	v          = config.NewViper()
	configPath string
	testConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "mtrelay",
	Short: "Obfuscated relay that forwards disguised handshakes to fixed backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWith(v, configPath)
		if err != nil {
			return err
		}
		if testConfig {
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("Listen: %s\n", cfg.ListenAddr())
			fmt.Printf("Secret: %s\n", cfg.MaskedSecret())
			if len(cfg.Backends) > 0 {
				fmt.Printf("Backends: %d overridden\n", len(cfg.Backends))
			}
			return nil
		}
		return serve(cfg)
	},
	SilenceUsage: true,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh random secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := config.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Print the tg://proxy link for the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWith(v, configPath)
		if err != nil {
			return err
		}
		if cfg.SecretGenerated {
			return fmt.Errorf("no secret configured, a link to a random secret would be useless")
		}
		link, err := config.BuildShareLink(cfg, "")
		if err != nil {
			return err
		}
		fmt.Println(link)
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create a config interactively, then start the relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = "mtrelay.yaml"
		}
		result, err := app.RunSetupWizard(os.Stdin, os.Stdout, path, v.GetString("public_host"))
		if err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}
		fmt.Printf("Config saved to %s\n", result.ConfigPath)
		fmt.Printf("Share link: %s\n", result.ShareLink)
		return serve(result.Config)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (json or yaml)")
	flags.String("host", config.DefaultHost, "listen host")
	flags.Int("port", config.DefaultPort, "listen port")
	flags.String("secret", "", "16-byte secret as 32 hex characters (random if empty)")
	flags.String("public-host", "", "advertised host for the share link")
	flags.String("dns-server", "", "DNS server used to resolve backend names")
	flags.String("log-level", config.DefaultLogLevel, "debug, info, warn or error")
	rootCmd.Flags().BoolVar(&testConfig, "test", false, "validate configuration and exit")

	_ = v.BindPFlag("host", flags.Lookup("host"))
	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("secret", flags.Lookup("secret"))
	_ = v.BindPFlag("public_host", flags.Lookup("public-host"))
	_ = v.BindPFlag("dns_server", flags.Lookup("dns-server"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(keygenCmd, linkCmd, setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.SecretGenerated {
		// 随机生成的密钥只打印这一次
		logger.Warn("no secret configured, generated one", zap.String("secret", cfg.Secret))
	}
	if link, err := config.BuildShareLink(cfg, ""); err == nil {
		logger.Info("share link", zap.String("link", link))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunServer(ctx, cfg, logger, shutdownGrace); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		return err
	}
	logger.Info("relay stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.DisableStacktrace = true
	return zc.Build()
}
