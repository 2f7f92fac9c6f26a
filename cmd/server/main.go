package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hexfront.gg/internal/config"
	"hexfront.gg/internal/game/data"
	"hexfront.gg/internal/game/delegate"
	"hexfront.gg/internal/game/framework"
	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/game/scenario"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/persistence/indexdb"
	persistlog "hexfront.gg/internal/persistence/log"
	"hexfront.gg/internal/persistence/save"
)

func main() {
	var (
		addr         = flag.String("addr", "", "listen address (overrides engine.yaml)")
		configPath   = flag.String("config", "./configs/engine.yaml", "engine config path")
		scenarioPath = flag.String("scenario", "./configs/scenario.yaml", "scenario path (used when starting fresh)")
		loadPath     = flag.String("load", "", "save file to resume from (optional)")
		maxRounds    = flag.Int("max_rounds", 0, "stop the game after this many rounds (0 = unlimited)")
		diceSeed     = flag.Int64("dice_seed", 0, "plain dice seed override (0 = config / clock)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.ListenAddr = *addr
	}
	if *diceSeed != 0 {
		cfg.DiceSeed = *diceSeed
	}

	g, err := buildGameData(*loadPath, *scenarioPath, logger)
	if err != nil {
		logger.Fatalf("build game data: %v", err)
	}

	idx, err := indexdb.OpenSQLite(cfg.IndexDBPath)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	diceLog := persistlog.NewDiceLogger(cfg.SaveDir)
	defer diceLog.Close()

	saveMirror, err := buildSaveMirror(cfg.SaveDir, logger)
	if err != nil {
		logger.Fatalf("save mirror: %v", err)
	}
	defer saveMirror.Close()

	messenger := net.NewServerMessenger(cfg.ServerName, cfg.ListenAddr, allowAll{}, logger)
	defer messenger.Shutdown()

	delegates := delegatesForSequence(g)
	localPlayers := map[string]framework.GamePlayer{}
	for _, p := range g.Players() {
		localPlayers[p.Name()] = &aiPlayer{name: p.Name()}
	}

	opts := framework.Options{
		SaveDir:          cfg.SaveDir,
		Headless:         cfg.Headless,
		AutosaveEnabled:  cfg.AutosaveEnabled,
		ObserverJoinWait: time.Duration(cfg.ObserverJoinWaitSeconds) * time.Second,
		DiceSeed:         cfg.DiceSeed,
		Index:            idx,
	}
	if saveMirror != nil {
		opts.Mirror = saveMirror
	}
	sg, err := framework.NewServerGame(logger, g, messenger, delegates, localPlayers, opts)
	if err != nil {
		logger.Fatalf("new server game: %v", err)
	}
	sg.Stats().AddSink(func(rec random.DiceRecord) { _ = diceLog.WriteRoll(rec) })
	sg.Stats().AddSink(idx.RecordDice)

	mux := http.NewServeMux()
	mux.Handle("/ws", messenger.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":       true,
			"scenario": g.ScenarioName(),
			"round":    g.Sequence().Round(),
			"running":  sg.IsGameSequenceRunning(),
		})
	})
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	if *maxRounds > 0 {
		go func() {
			t := time.NewTicker(250 * time.Millisecond)
			defer t.Stop()
			for range t.C {
				if g.Sequence().Round() > *maxRounds {
					logger.Printf("round limit reached; stopping")
					sg.StopGame()
					return
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Printf("signal %v; stopping game", s)
		sg.StopGame()
	}()

	if err := sg.StartGame(); err != nil {
		logger.Printf("game loop: %v", err)
	}
	sg.StopGame()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	logger.Printf("bye")
}

func buildGameData(loadPath, scenarioPath string, logger *log.Logger) (*data.GameData, error) {
	if strings.TrimSpace(loadPath) != "" {
		game, hdr, err := save.ReadFile(loadPath)
		if err != nil {
			return nil, err
		}
		logger.Printf("resuming %s at round %d step %s", hdr.Scenario, hdr.Round, hdr.Step)
		return save.Restore(game)
	}
	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return nil, err
	}
	return sc.Build()
}

// delegatesForSequence instantiates a pass-through delegate per name the
// sequence references. Real rule modules replace these by importing their
// packages and passing them in.
func delegatesForSequence(g *data.GameData) []delegate.Delegate {
	seen := map[string]bool{}
	var out []delegate.Delegate
	for _, s := range g.Sequence().Steps() {
		if seen[s.DelegateName] {
			continue
		}
		seen[s.DelegateName] = true
		out = append(out, &delegate.Base{DelegateName: s.DelegateName})
	}
	return out
}

// allowAll admits every spoke; it still refuses empty identities.
type allowAll struct{}

func (allowAll) ChallengeProperties(name string) map[string]string { return nil }

func (allowAll) VerifyConnection(challenge, response map[string]string, name, mac, remoteAddr string) string {
	if strings.TrimSpace(name) == "" {
		return "name required"
	}
	if strings.TrimSpace(mac) == "" {
		return "machine id required"
	}
	return ""
}

// aiPlayer is the default seat: it acts instantly and needs no input.
type aiPlayer struct{ name string }

func (p *aiPlayer) Name() string                { return p.name }
func (p *aiPlayer) PlayerType() string          { return "AI:Default" }
func (p *aiPlayer) Start(stepName string) error { return nil }
func (p *aiPlayer) Stop()                       {}
