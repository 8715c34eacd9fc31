// Command roundctl inspects and repairs round state outside the server.
//
//	roundctl clock
//	roundctl outcome -game ladder -round 2026-02-24-R5
//	roundctl results -game ladder -n 20
//	roundctl reconcile -game ladder -participant alice
//	roundctl import-math -file math/index.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/app"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/backoff"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/config"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/gamemath"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: roundctl [-config path] <clock|outcome|results|reconcile|import-math> [flags]")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string, out io.Writer) error {
	if cmd == "import-math" {
		return importMath(cfg, args, out)
	}
	a, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "clock":
		return printClock(a, out)
	case "outcome":
		return outcome(ctx, a, args, out)
	case "results":
		return results(ctx, a, args, out)
	case "reconcile":
		return reconcile(ctx, a, args, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printClock(a *app.App, out io.Writer) error {
	info := a.Clock.At(time.Now())
	phase := "betting"
	if info.InReveal {
		phase = "reveal"
	}
	fmt.Fprintf(out, "now       %s\n", info.Now.Format(time.RFC3339))
	fmt.Fprintf(out, "phase     %s (%ds left)\n", phase, info.SecondsLeft())
	fmt.Fprintf(out, "revealing %s\n", info.RevealRoundID)
	fmt.Fprintf(out, "betting   %s\n", info.BettingRoundID)
	return nil
}

func outcome(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("outcome", flag.ContinueOnError)
	game := fs.String("game", "", "game id")
	roundID := fs.String("round", "", "round id, e.g. 2026-02-24-R5")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *game == "" || *roundID == "" {
		return errors.New("-game and -round are required")
	}
	revealed, err := a.Clock.Revealed(*roundID, time.Now())
	if err != nil {
		return err
	}
	if !revealed {
		return fmt.Errorf("%s is not revealed yet", *roundID)
	}
	res, err := a.Oracle.Get(ctx, *game, *roundID, true)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func results(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("results", flag.ContinueOnError)
	game := fs.String("game", "", "game id")
	n := fs.Int("n", 10, "number of rounds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *game == "" {
		return errors.New("-game is required")
	}
	ids, err := a.Clock.Previous(a.Clock.At(time.Now()).RevealRoundID, *n)
	if err != nil {
		return err
	}
	rows, err := a.Oracle.Recent(ctx, *game, ids)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Round", "Outcome", "Winners", "Created")
	for _, row := range rows {
		if row.Result == nil {
			table.Append(row.RoundID, "pending", "", "")
			continue
		}
		table.Append(
			row.RoundID,
			row.Result.Outcome.Label,
			strings.Join(row.Result.Outcome.Winners, ","),
			row.Result.CreatedAt.Format(time.DateTime),
		)
	}
	return table.Render()
}

func reconcile(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	game := fs.String("game", "", "game id")
	participant := fs.String("participant", "", "participant id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *game == "" || *participant == "" {
		return errors.New("-game and -participant are required")
	}
	var settled int
	err := backoff.Retry(ctx, a.Config.BackoffBase(), a.Config.BackoffMax(), func(ctx context.Context) error {
		n, err := a.Engine.SettleBacklog(ctx, *game, *participant, time.Now())
		settled += n
		return err
	})
	fmt.Fprintf(out, "settled %d wager(s) for %s on %s\n", settled, *participant, *game)
	return err
}

// importMath registers a payout model file so tables built from it pick it up on next start.
func importMath(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import-math", flag.ContinueOnError)
	file := fs.String("file", "", "path to a game math JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read math: %w", err)
	}
	var m gamemath.GameMath
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse math: %w", err)
	}
	store := gamemath.NewStore(cfg.Store.DataDir, slog.Default())
	if err := store.Register(&m); err != nil {
		return err
	}
	fmt.Fprintf(out, "registered %s (rtp %.4f, hit rate %.4f)\n", m.ModelID, m.Stats.ComputedRTP, m.Stats.HitRate)
	return nil
}
