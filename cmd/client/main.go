package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hexfront.gg/internal/game/framework"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://127.0.0.1:8777/ws", "hub websocket url")
		name    = flag.String("name", "player", "node name")
		players = flag.String("players", "", "comma-separated players hosted by this node")
		mac     = flag.String("mac", "", "machine id (random when empty)")
		think   = flag.Duration("think", 0, "artificial think time per step")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	machineID := strings.TrimSpace(*mac)
	if machineID == "" {
		machineID = randomMachineID()
	}

	conn, err := net.Dial(*url, *name, machineID, nil, logger)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	blob, err := fetchSave(conn)
	if err != nil {
		logger.Fatalf("fetch game: %v", err)
	}
	g, err := framework.RestoreGame(blob)
	if err != nil {
		logger.Fatalf("restore game: %v", err)
	}
	logger.Printf("joined scenario %s at round %d", g.ScenarioName(), g.Sequence().Round())

	localPlayers := map[string]framework.GamePlayer{}
	for _, p := range strings.Split(*players, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		localPlayers[p] = &clientPlayer{name: p, think: *think, log: logger}
	}

	cg, err := framework.NewClientGame(logger, g, conn, localPlayers)
	if err != nil {
		logger.Fatalf("client game: %v", err)
	}
	defer cg.Shutdown()
	if err := cg.RegisterPlayers(); err != nil {
		logger.Fatalf("register players: %v", err)
	}

	disconnected := make(chan struct{})
	conn.OnDisconnect(func(err error) { close(disconnected) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case s := <-sigCh:
			logger.Printf("signal %v; leaving", s)
			return
		case <-disconnected:
			logger.Printf("hub gone; leaving")
			return
		case <-ticker.C:
			if cg.IsGameOver() {
				logger.Printf("game over")
				return
			}
		}
	}
}

func fetchSave(conn *net.ClientMessenger) ([]byte, error) {
	raw, err := conn.InvokeHub(protocol.ServerRemote, "get_save_game", true)
	if err != nil {
		return nil, err
	}
	var blob []byte
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// clientPlayer acts for its seat when the hub advances a step.
type clientPlayer struct {
	name  string
	think time.Duration
	log   *log.Logger
}

func (p *clientPlayer) Name() string       { return p.name }
func (p *clientPlayer) PlayerType() string { return "Human:Client" }

func (p *clientPlayer) Start(stepName string) error {
	p.log.Printf("%s acting in %s", p.name, stepName)
	if p.think > 0 {
		time.Sleep(p.think)
	}
	return nil
}

func (p *clientPlayer) Stop() {}

func randomMachineID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
