package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wsplay/internal/player"
)

var (
	configPath string
	streamURL  string
	outputPath string
	eventLog   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "wsplay",
	Short: "Headless websocket streaming client",
	Long: `wsplay connects to a websocket media server, performs the client-init
handshake, acknowledges every media fragment and reports buffer health while
draining the received video track to a file.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", player.DefaultConfigPath, "config file (yaml or toml)")
	rootCmd.Flags().StringVar(&streamURL, "url", "", "stream url, overrides stream.url")
	rootCmd.Flags().StringVarP(&outputPath, "out", "o", "", "write received video to this file")
	rootCmd.Flags().StringVar(&eventLog, "event-log", "", "append server-init and acks to this file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func run(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	player.InitLogger(config)

	client, err := player.NewClient(config)
	if err != nil {
		return err
	}

	// 시그널 수신 시 컨텍스트 취소
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting stream", "url", config.Stream.URL)
	if err := client.Run(ctx); err != nil {
		slog.Error("stream failed", "err", err)
		return err
	}
	slog.Info("client shutdown complete")
	return nil
}

func loadConfig(cmd *cobra.Command) (*player.Config, error) {
	config := player.DefaultConfig()

	// 설정 파일은 명시된 경우나 기본 경로에 있을 때만 읽음
	if _, statErr := os.Stat(configPath); statErr == nil || cmd.Flags().Changed("config") {
		loaded, err := player.ReadConfig(configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if streamURL != "" {
		config.Stream.URL = streamURL
	}
	if outputPath != "" {
		config.Output.Path = outputPath
	}
	if eventLog != "" {
		config.EventLog.Path = eventLog
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
