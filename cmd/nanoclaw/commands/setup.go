package commands

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/config"
)

// newSetupCmd cria o assistente interativo de configuração inicial.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Assistente interativo de configuração",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd)
		},
	}
}

func runSetup(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()

	var (
		discordToken  string
		tokenStorage  = "keyring"
		enableWA      = cfg.Channels.WhatsApp.Enabled
		enableDiscord = cfg.Channels.Discord.Enabled
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Nome do assistente").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Palavra de gatilho").
				Description("Mensagens em grupos com gatilho precisam começar com ela.").
				Value(&cfg.Trigger),
			huh.NewInput().
				Title("Timezone").
				Placeholder("America/Sao_Paulo").
				Value(&cfg.Timezone),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Habilitar WhatsApp?").
				Description("O pareamento via QR code acontece no primeiro serve.").
				Value(&enableWA),
			huh.NewConfirm().
				Title("Habilitar Discord?").
				Value(&enableDiscord),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Token do bot Discord").
				EchoMode(huh.EchoModePassword).
				Value(&discordToken),
			huh.NewSelect[string]().
				Title("Onde guardar o token?").
				Options(
					huh.NewOption("Keyring do sistema (recomendado)", "keyring"),
					huh.NewOption("Variável de ambiente (eu configuro)", "env"),
				).
				Value(&tokenStorage),
		).WithHideFunc(func() bool { return !enableDiscord }),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	cfg.Channels.WhatsApp.Enabled = enableWA
	cfg.Channels.Discord.Enabled = enableDiscord

	if enableDiscord && discordToken != "" {
		switch tokenStorage {
		case "keyring":
			if err := config.StoreDiscordToken(discordToken); err != nil {
				fmt.Printf("Aviso: keyring indisponível (%v); gravando token na config.\n", err)
				cfg.Channels.Discord.Token = discordToken
			} else {
				// O arquivo referencia a env var; a cadeia de resolução acha
				// o keyring sozinha.
				cfg.Channels.Discord.Token = "${NANOCLAW_DISCORD_TOKEN}"
			}
		case "env":
			cfg.Channels.Discord.Token = "${NANOCLAW_DISCORD_TOKEN}"
			fmt.Println("Defina NANOCLAW_DISCORD_TOKEN no ambiente ou no .env antes do serve.")
		}
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = "config.yaml"
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Printf("\nConfiguração gravada em %s\n", path)
	fmt.Println("Próximos passos:")
	fmt.Println("  nanoclaw group add <jid> <pasta>   registra um grupo")
	fmt.Println("  nanoclaw serve                     inicia o daemon")
	return nil
}
