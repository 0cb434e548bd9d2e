package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/config"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/container"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/liveness"
)

// watchdogLogFile acumula o histórico de execuções do watchdog. O comando é
// disparado por cron externo, então o stdout de cada execução se perde.
const watchdogLogFile = "data/watchdog.log"

// newWatchdogCmd cria o comando de verificação única de liveness. Feito para
// rodar via cron: verifica o heartbeat, mata o daemon travado e recolhe
// instâncias que passaram do tempo de vida.
func newWatchdogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watchdog",
		Short: "Executa uma verificação de liveness (heartbeat + reaper)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchdog(cmd)
		},
	}
}

func runWatchdog(cmd *cobra.Command) error {
	// Config é opcional aqui: o watchdog precisa funcionar mesmo quando o
	// setup nunca rodou nesta máquina.
	cfg := config.DefaultConfig()
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger, closeLog, err := watchdogLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	runtime := container.NewDockerRuntime(logger)
	w := liveness.NewWatchdog(cfg.Watchdog, runtime, logger)
	w.RunOnce(context.Background())
	return nil
}

// watchdogLogger escreve em stderr e anexa ao arquivo de log fixo.
func watchdogLogger() (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(watchdogLogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(watchdogLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening watchdog log: %w", err)
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), nil)
	return slog.New(handler), func() { f.Close() }, nil
}
