// Command hoprd is a thin entrypoint over hoprnode.Node: enough to bring a
// node up against in-memory backends and exercise the data plane locally.
// Flag parsing beyond this, config file loading, and a full operator CLI
// are explicitly out of scope (see the Non-goals on the CLI surface).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli"

	"github.com/hoprnet/hopr-core/config"
	"github.com/hoprnet/hopr-core/hoprnode"
)

func main() {
	app := cli.NewApp()
	app.Name = "hoprd"
	app.Usage = "run a HOPR mixnet node"
	app.Commands = []cli.Command{
		startCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hoprd:", err)
		os.Exit(1)
	}
}

var startCommand = cli.Command{
	Name:  "start",
	Usage: "start a node against in-memory backends and run until interrupted",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "tags-path",
			Value: "/tmp/hoprd-tags",
			Usage: "persistence path for the replay filter's tag log",
		},
	},
	Action: runStart,
}

func runStart(c *cli.Context) error {
	hoprnode.DefaultLogging()

	cfg := config.Config{
		Mix:     config.MixConfig{MinDelay: 100 * time.Millisecond, DelayRange: 400 * time.Millisecond, Capacity: 256},
		Session: config.SessionConfig{MTU: 1024, FrameTimeout: 30 * time.Second, MaxIncompleteFrames: 64, IdleTimeout: 5 * time.Minute},
		Surb:    config.SurbConfig{TargetInventory: 16, RefillRateMax: 4},
		Ticket:  config.TicketConfig{MinWinProb: 0.01, MinPrice: 1},
		Bloom: config.BloomConfig{
			Capacity: 10_000_000, FalsePositiveRate: 1e-5,
			PersistPath: c.String("tags-path"),
		},
		Ack:   config.AckConfig{Timeout: 10 * time.Second},
		Probe: config.ProbeConfig{RTTBudget: 2 * time.Second, UnhealthyAfter: 3, HealthyAfter: 3},
	}

	deps, err := newDemoDeps()
	if err != nil {
		return fmt.Errorf("build demo backends: %w", err)
	}

	node, err := hoprnode.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	fmt.Println("hoprd: running, press ctrl-c to stop")

	select {
	case <-ctx.Done():
	case err := <-node.LoopErrors():
		fmt.Fprintln(os.Stderr, "hoprd: background loop failed:", err)
	}

	return node.Stop()
}
