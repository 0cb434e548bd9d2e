package commands

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

// newGroupCmd cria o comando de gerenciamento de grupos registrados.
func newGroupCmd() *cobra.Command {
	groupCmd := &cobra.Command{
		Use:   "group",
		Short: "Gerencia grupos registrados",
	}
	groupCmd.AddCommand(newGroupAddCmd(), newGroupListCmd(), newGroupRemoveCmd())
	return groupCmd
}

func newGroupAddCmd() *cobra.Command {
	var name, trigger string
	var noTrigger bool

	cmd := &cobra.Command{
		Use:   "add <jid> <folder>",
		Short: "Registra um grupo para processamento pelo agente",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			folder := sanitizeFolder(args[1])
			if folder == "" {
				return fmt.Errorf("folder name %q has no usable characters", args[1])
			}
			if trigger == "" {
				trigger = cfg.Trigger
			}

			group := store.RegisteredGroup{
				JID:             args[0],
				Name:            name,
				Folder:          folder,
				Trigger:         trigger,
				RequiresTrigger: !noTrigger,
				AddedAt:         time.Now().UTC(),
			}
			if err := st.RegisterGroup(group); err != nil {
				return err
			}
			fmt.Printf("Grupo registrado: %s → pasta %q\n", group.JID, group.Folder)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "nome de exibição do grupo")
	cmd.Flags().StringVar(&trigger, "trigger", "", "palavra de gatilho (default: trigger global da config)")
	cmd.Flags().BoolVar(&noTrigger, "no-trigger", false, "processa toda mensagem, sem exigir gatilho")
	return cmd
}

func newGroupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista grupos registrados",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			groups, err := st.GetAllRegisteredGroups()
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("Nenhum grupo registrado.")
				return nil
			}
			for _, g := range groups {
				gate := "trigger: " + g.Trigger
				if !g.RequiresTrigger {
					gate = "sem gatilho"
				}
				fmt.Printf("%-40s  %-20s  %s\n", g.JID, g.Folder, gate)
			}
			return nil
		},
	}
}

func newGroupRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <jid>",
		Short: "Remove o registro de um grupo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.UnregisterGroup(args[0]); err != nil {
				return err
			}
			fmt.Printf("Grupo removido: %s\n", args[0])
			return nil
		},
	}
}

// sanitizeFolder normaliza o nome da pasta: minúsculas, alfanuméricos e
// hífens, sem hífens nas pontas. A pasta vira caminho no filesystem e nome
// de bind mount, então nada além disso passa.
func sanitizeFolder(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r) && r < 128:
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || unicode.IsLetter(r):
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
