package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/riskgate/riskgate/internal/engine"
	"github.com/riskgate/riskgate/internal/policy"
	"github.com/riskgate/riskgate/internal/server"
	"github.com/riskgate/riskgate/internal/store"
	"github.com/riskgate/riskgate/internal/telemetry"
	"github.com/riskgate/riskgate/internal/webhook"
)

var (
	servePort    int
	servePolicy  string
	serveDB      string
	serveNoWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP listen port")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML (defaults to built-in policy)")
	serveCmd.Flags().StringVar(&serveDB, "db", "riskgate.db", "Path to the bbolt database file")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable policy file hot-reload")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation gateway",
	Long: "Runs riskgate as an HTTP gateway. Agents submit actions to\n" +
		"POST /api/v1/evaluate and block on human approval when the engine\n" +
		"raises a checkpoint. Supports hot-reload of the policy file.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := telemetry.NewLogger("riskgate")

	pol, hash, err := policy.LoadWithHash(servePolicy)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	policies := policy.NewStore(pol, hash, log)

	st, err := store.Open(serveDB, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	hooks, err := st.Webhooks()
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}
	dispatcher := webhook.NewDispatcher(hooks, st, log)
	bus := server.NewBus()

	eng := engine.New(engine.Config{
		Policies:  policies,
		Persister: st,
		Publisher: engine.MultiPublisher(dispatcher, bus),
		Logger:    log,
	})
	if err := restoreState(eng, st); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	srv := server.New(server.Config{
		Engine:     eng,
		Policies:   policies,
		Store:      st,
		Dispatcher: dispatcher,
		Bus:        bus,
		Logger:     log,
		APIKey:     apiKey,
		PolicyPath: servePolicy,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eng.Maintain(ctx, time.Minute)

	if !serveNoWatch && servePolicy != "" {
		reloader, err := server.NewReloader(srv, servePolicy, log)
		if err != nil {
			log.Warn().Err(err).Msg("hot_reload_disabled")
		} else {
			go reloader.Run(ctx)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting_down")
		cancel()
		dispatcher.Wait()
		_ = srv.Shutdown()
	}()

	return srv.Listen(fmt.Sprintf(":%d", servePort))
}

func restoreState(eng *engine.Engine, st *store.Store) error {
	actions, err := st.LoadActions()
	if err != nil {
		return err
	}
	events, err := st.LoadNearMisses()
	if err != nil {
		return err
	}
	sessions, err := st.LoadSessions()
	if err != nil {
		return err
	}
	eng.Restore(actions, events, sessions)
	return nil
}
