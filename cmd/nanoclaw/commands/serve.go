package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/agent"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels/discord"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels/whatsapp"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/config"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/container"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/ipc"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/liveness"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/router"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/scheduler"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/store"
)

// newServeCmd cria o comando que inicia o daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Inicia o daemon NanoClaw (canais + agente)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)
	logger.Info("nanoclaw starting", "name", cfg.Name)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Canais habilitados, na ordem de despacho. WhatsApp primeiro: seus
	// sufixos de JID são mais específicos.
	var chs []channels.Channel
	if cfg.Channels.WhatsApp.Enabled {
		chs = append(chs, whatsapp.New(cfg.Channels.WhatsApp, logger))
	}
	if cfg.Channels.Discord.Enabled {
		if cfg.Channels.Discord.Token == "" {
			return fmt.Errorf("discord enabled but no token configured (set NANOCLAW_DISCORD_TOKEN or run nanoclaw setup)")
		}
		chs = append(chs, discord.New(cfg.Channels.Discord, logger))
	}
	if len(chs) == 0 {
		return fmt.Errorf("no channels enabled; edit the config or run nanoclaw setup")
	}

	runtime := container.NewDockerRuntime(logger)
	manager := agent.NewManager(cfg.Agent, runtime, st, logger)

	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		manager: manager,
	}
	d.queue = agent.NewQueue(d.runTurn, logger)
	d.router = router.New(chs, st, func(ctx context.Context, group store.RegisteredGroup) {
		d.queue.Enqueue(ctx, group.Folder)
	}, logger)

	for _, ch := range chs {
		if err := ch.Connect(ctx); err != nil {
			return fmt.Errorf("connecting %s: %w", ch.Name(), err)
		}
		logger.Info("channel connected", "channel", ch.Name())
	}
	defer func() {
		for _, ch := range chs {
			if err := ch.Disconnect(); err != nil {
				logger.Warn("channel disconnect failed", "channel", ch.Name(), "error", err)
			}
		}
	}()

	d.router.Start(ctx)

	// Poller global do mailbox: entrega mensagens que o agente deixou fora
	// de um turno (ex.: instância derrubada pelo reaper com envelopes
	// pendentes). Pastas com turno ativo são puladas já na varredura — os
	// envelopes ficam no disco para o poller do próprio turno.
	idle := ipc.NewPoller(cfg.Agent.IPCDir, cfg.Agent.PollInterval, logger, func(folder, text string) {
		d.deliverToChat(ctx, folder, text)
	})
	idle.SetSkip(manager.IsActive)
	idle.Start(ctx)

	heartbeat := liveness.NewHeartbeat(cfg.Heartbeat, logger)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(st, d.fireTask, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
	}

	logger.Info("nanoclaw ready", "channels", len(chs))

	// Aguarda sinal de término.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	cancel()

	done := make(chan struct{})
	go func() {
		d.queue.Wait()
		d.router.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out")
	}
	return nil
}

// daemon amarra store, fila, manager e router num processo serve.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	manager *agent.Manager
	queue   *agent.Queue
	router  *router.Router
}

// runTurn executa um turno do agente para a pasta: lê as mensagens depois do
// cursor, monta o prompt, roda a invocação e entrega o resultado no chat.
func (d *daemon) runTurn(ctx context.Context, folder string) {
	group, err := d.groupByFolder(folder)
	if err != nil {
		d.logger.Error("serve: group lookup failed", "folder", folder, "error", err)
		return
	}
	if group == nil {
		d.logger.Warn("serve: wakeup for unregistered folder", "folder", folder)
		return
	}

	cursor, err := d.store.GetCursor(folder)
	if err != nil {
		d.logger.Error("serve: cursor read failed", "folder", folder, "error", err)
		return
	}
	msgs, err := d.store.GetMessagesAfter(group.JID, cursor)
	if err != nil {
		d.logger.Error("serve: message read failed", "folder", folder, "error", err)
		return
	}
	if len(msgs) == 0 {
		return // wakeup já coalescido por um turno anterior
	}

	token, err := d.store.GetSession(folder)
	if err != nil {
		d.logger.Error("serve: session read failed", "folder", folder, "error", err)
		return
	}

	input := agent.Input{
		Prompt:       formatPrompt(msgs),
		SessionToken: token,
		Folder:       folder,
		JID:          group.JID,
		IsMain:       folder == "main",
	}

	defer d.router.SetTyping(ctx, group.JID, false)

	out, err := d.manager.RunInvocation(ctx, *group, input,
		func(instance string) {
			d.router.SetTyping(ctx, group.JID, true)
		},
		func(text string) {
			d.deliverToChat(ctx, folder, text)
		},
	)
	if err != nil {
		if errors.Is(err, agent.ErrInvocationActive) {
			d.logger.Debug("serve: turn already in flight", "folder", folder)
			return
		}
		d.logger.Error("serve: turn failed", "folder", folder, "error", err)
		// O chat que originou o turno precisa saber que ele falhou; uma
		// falha de transporte aqui fica só no log.
		if sendErr := d.router.Send(ctx, group.JID, "⚠️ "+err.Error()); sendErr != nil {
			d.logger.Error("serve: error notice send failed", "folder", folder, "error", sendErr)
		}
		return
	}

	// O turno consumiu as mensagens; avança o cursor antes de enviar a
	// resposta para não reprocessá-las se o envio falhar.
	last := msgs[len(msgs)-1].Seq
	if err := d.store.SetCursor(folder, last); err != nil {
		d.logger.Error("serve: cursor write failed", "folder", folder, "error", err)
	}

	if strings.TrimSpace(out.Result) != "" {
		if err := d.router.Send(ctx, group.JID, out.Result); err != nil {
			d.logger.Error("serve: result send failed", "folder", folder, "error", err)
		}
	}
}

// deliverToChat envia texto vindo do mailbox para o chat dono da pasta.
func (d *daemon) deliverToChat(ctx context.Context, folder, text string) {
	group, err := d.groupByFolder(folder)
	if err != nil || group == nil {
		d.logger.Warn("serve: mailbox message for unknown folder", "folder", folder, "error", err)
		return
	}
	if err := d.router.Send(ctx, group.JID, text); err != nil {
		d.logger.Error("serve: mailbox send failed", "folder", folder, "error", err)
	}
}

// fireTask injeta o prompt da tarefa como mensagem sintética e acorda a fila,
// reaproveitando o mesmo caminho de turno das mensagens de chat.
func (d *daemon) fireTask(ctx context.Context, task store.Task) {
	group, err := d.groupByFolder(task.GroupFolder)
	if err != nil || group == nil {
		d.logger.Warn("serve: task for unknown folder", "task", task.ID, "folder", task.GroupFolder, "error", err)
		return
	}
	msg := &channels.Message{
		ID:         fmt.Sprintf("task-%s-%d", task.ID, time.Now().UnixNano()),
		ChatJID:    group.JID,
		Sender:     "scheduler",
		SenderName: "Scheduler",
		Content:    task.Prompt,
		Timestamp:  time.Now().UTC(),
	}
	if err := d.store.StoreMessage(msg); err != nil {
		d.logger.Error("serve: task message store failed", "task", task.ID, "error", err)
		return
	}
	d.queue.Enqueue(ctx, task.GroupFolder)
}

func (d *daemon) groupByFolder(folder string) (*store.RegisteredGroup, error) {
	groups, err := d.store.GetAllRegisteredGroups()
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].Folder == folder {
			return &groups[i], nil
		}
	}
	return nil, nil
}

// formatPrompt monta o prompt do turno: uma linha por mensagem pendente.
func formatPrompt(msgs []store.StoredMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = m.Sender
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), name, m.Content)
	}
	return b.String()
}

// resolveConfig localiza e carrega a configuração: flag --config explícita,
// senão os caminhos padrão.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return nil, fmt.Errorf("no config file found; run nanoclaw setup first")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger cria o logger conforme o formato configurado. --verbose força
// nível debug.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
