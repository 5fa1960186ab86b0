package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/picotts/cmd/picotts/internal/config"
	"github.com/haivivi/picotts/pkg/picoserver"
)

var (
	serveAddr    string
	serveNoCache bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket synthesis server",
	Long: `Run the synthesis server with every configured voice.

Endpoints:
  GET  /v1/voices       list voices
  POST /v1/synthesize   {"voice","text","sample_rate"} -> audio/wav
  GET  /v1/stream       WebSocket; send text frames, receive PCM frames
                        and a {"type":"done"} frame per utterance`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		addr := cfg.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, addr, !serveNoCache)
	},
}

func serve(ctx context.Context, cfg *config.Config, addr string, useCache bool) error {
	e, err := openEngine(ctx, cfg, nil, useCache)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, v := range e.Voices() {
		slog.Info("voice loaded", "voice", v.Name, "resources", v.Resources)
	}
	return picoserver.NewServer(e.Synthesizer, slog.Default()).ListenAndServe(ctx, addr)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCache, "no-cache", false, "disable the speech cache")
	rootCmd.AddCommand(serveCmd)
}
