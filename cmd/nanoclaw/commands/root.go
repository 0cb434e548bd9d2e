// Package commands implementa os comandos CLI do NanoClaw usando cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd cria o comando raiz do CLI com todos os subcomandos registrados.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nanoclaw",
		Short: "NanoClaw - Group Chat Agent",
		Long: `NanoClaw conecta grupos de chat (WhatsApp, Discord) a agentes
sandboxed: cada grupo registrado tem sua própria pasta, sessão e
container efêmero por turno.

Exemplos:
  nanoclaw setup
  nanoclaw serve
  nanoclaw group add 5511999998888-1234@g.us familia
  nanoclaw watchdog`,
		Version: version,
	}

	// Registra subcomandos.
	rootCmd.AddCommand(
		newServeCmd(),
		newWatchdogCmd(),
		newSetupCmd(),
		newGroupCmd(),
		newTaskCmd(),
	)

	// Flags globais.
	rootCmd.PersistentFlags().StringP("config", "c", "", "caminho para o arquivo de configuração")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "habilita logs detalhados")

	return rootCmd
}
