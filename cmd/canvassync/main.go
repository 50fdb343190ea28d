package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"canvassync/cmd/canvassync/ui"
	"canvassync/internal/animate"
	"canvassync/internal/canvas"
	"canvassync/internal/config"
	"canvassync/internal/connection"
	"canvassync/internal/engine"
	"canvassync/internal/logging"
	"canvassync/internal/sched"
	"canvassync/internal/session"
)

var (
	version = "dev"

	configPath string
	verbose    bool
	scripted   bool
	domain     string
)

var rootCmd = &cobra.Command{
	Use:   "canvassync",
	Short: "Live canvas to AI tutor synchronization client",
	Long: `canvassync keeps a freeform learning canvas and the AI tutoring agent in
sync: it watches the canvas for human edits, forwards settled questions and
idle nudges to the agent backend, and types the agent's replies back onto the
canvas without ever mistaking them for new human input.

Run without arguments to start the interactive demo client.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the agent backend and start the tutoring view",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("canvassync %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "canvassync.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&scripted, "script", false, "use the built-in scripted backend instead of a live one")
	rootCmd.PersistentFlags().StringVar(&domain, "domain", "algorithms", "tutoring domain for the session")
	rootCmd.AddCommand(runCmd, versionCmd)
}

func runClient(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Init(logging.Options{Level: cfg.Logging.Level, JSONFormat: cfg.Logging.JSONFormat})
	defer logging.Sync()

	log := logging.Get(logging.CategoryBoot)
	log.Info("starting", zap.String("version", version), zap.Bool("scripted", scripted))

	host := canvas.NewMemoryHost()
	dial := pickDialer(cfg)

	var program atomic.Pointer[tea.Program]
	send := func(msg tea.Msg) {
		if p := program.Load(); p != nil {
			p.Send(msg)
		}
	}

	eng := engine.New(cfg, host, dial, sched.NewReal(), engine.Events{
		OnMessage:   func(m session.ChatMessage) { send(ui.ChatMsg(m)) },
		OnMilestone: func(m session.Milestone) { send(ui.MilestoneMsg(m)) },
		OnState:     func(s string) { send(ui.SessionStateMsg(s)) },
		OnError:     func(err error) { send(ui.ErrMsg{Err: err}) },
		OnTyping:    func(p animate.Progress) { send(ui.TypingMsg(p)) },
	})

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Connect(ctx); err != nil {
		return fmt.Errorf("backend unreachable: %w (try --script for the demo backend)", err)
	}
	eng.Start()
	defer eng.Stop()

	// The program must be stored before the session opens: engine callbacks
	// deliver through it, and anything arriving earlier would never render.
	model := ui.NewModel(host, eng, domain)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	program.Store(p)

	if err := eng.Session().StartSession(domain, ""); err != nil {
		return err
	}

	// Hot-reload tuning knobs while the view is open.
	watcher, err := config.NewWatcher(configPath, eng.ApplyConfig)
	if err == nil && fileExists(configPath) {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.Run()
		cancel()
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		p.Quit()
		return nil
	})
	return g.Wait()
}

// pickDialer chooses between the live websocket backend and the scripted
// in-process one.
func pickDialer(cfg config.Config) connection.DialFunc {
	if scripted {
		return scriptedDialer()
	}
	timeout, _ := cfg.DialTimeout()
	return connection.WebsocketDialer(cfg.Backend.URL, cfg.Backend.AuthToken, timeout)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
