package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/scheduler"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

// newTaskCmd cria o comando de gerenciamento de tarefas agendadas.
func newTaskCmd() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Gerencia tarefas agendadas (cron)",
	}
	taskCmd.AddCommand(newTaskAddCmd(), newTaskListCmd(), newTaskRemoveCmd())
	return taskCmd
}

// taskScheduler abre o store e monta um scheduler sem fire: os comandos CRUD
// só validam e persistem, quem dispara é o daemon serve.
func taskScheduler(cmd *cobra.Command) (*scheduler.Scheduler, *store.Store, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return scheduler.New(st, nil, logger), st, nil
}

func newTaskAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <folder> <schedule> <prompt...>",
		Short: "Agenda uma tarefa cron para um grupo",
		Long: `Agenda um prompt recorrente. O schedule usa a sintaxe cron de 5
campos ou descritores (@daily, @every 1h).

Exemplo:
  nanoclaw task add familia "0 8 * * *" "Resumo das mensagens de ontem"`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, st, err := taskScheduler(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			task, err := sched.Add(store.Task{
				GroupFolder: args[0],
				Schedule:    args[1],
				Prompt:      strings.Join(args[2:], " "),
				Status:      store.TaskStatusActive,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Tarefa agendada: %s (%s)\n", task.ID, task.Schedule)
			return nil
		},
	}
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista tarefas agendadas",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, st, err := taskScheduler(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := sched.List()
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("Nenhuma tarefa agendada.")
				return nil
			}
			for _, t := range tasks {
				next := "-"
				if !t.NextRun.IsZero() {
					next = t.NextRun.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-36s  %-15s  %-12s  próxima: %s\n  %s\n", t.ID, t.Schedule, t.GroupFolder, next, t.Prompt)
			}
			return nil
		},
	}
}

func newTaskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove uma tarefa agendada",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, st, err := taskScheduler(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := sched.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Tarefa removida: %s\n", args[0])
			return nil
		},
	}
}
