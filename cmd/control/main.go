// Command control is the operator surface: it inspects the shared snapshot
// and writes the control-owned subtrees (mode requests, risk limits). It
// never talks to the exchange; the fast core applies requests within one
// loop iteration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/internal/state"
	"pred_trader/pkg/logging"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

const usage = `Usage: control [flags] <command>

Commands:
  summary                     print the snapshot: account, positions, orders, signals
  set-mode <mode>             request a mode change (normal|defensive|aggressive|halt)
  set-limits [limit flags]    update risk limits (see set-limits -h)
`

func main() {
	flag.Parse()
	_ = godotenv.Load()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	logger := logging.NewLogger(logging.ErrorLevel, nil)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fatalf("failed to load configuration: %v", err)
	}

	store, err := state.NewStore(cfg, logger)
	if err != nil {
		fatalf("failed to open state store: %v", err)
	}

	args := flag.Args()
	command := "summary"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "summary":
		err = printSummary(store)
	case "set-mode":
		err = setMode(store, args[1:])
	case "set-limits":
		err = setLimits(store, args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "control: "+format+"\n", args...)
	os.Exit(1)
}

func printSummary(store core.IStateStore) error {
	snap, err := store.Read()
	if err != nil {
		return err
	}

	fmt.Printf("snapshot v%d  written by %s at %s  mode=%s\n\n",
		snap.Version, snap.WrittenBy, snap.WrittenAt.Format(time.RFC3339), snap.Mode)
	if snap.ModeRequest != nil {
		fmt.Printf("pending mode request: %s (by %s at %s)\n\n",
			snap.ModeRequest.Mode, snap.ModeRequest.RequestedBy,
			snap.ModeRequest.At.Format(time.RFC3339))
	}

	account := tablewriter.NewWriter(os.Stdout)
	account.Header("Balance", "Daily PnL", "Weekly PnL", "Fees", "Trades", "W/L")
	account.Append(
		snap.Account.Balance.StringFixed(2),
		snap.Account.DailyPnL.StringFixed(2),
		snap.Account.WeeklyPnL.StringFixed(2),
		snap.Account.FeesPaid.StringFixed(2),
		fmt.Sprintf("%d", snap.Account.TradesDay),
		fmt.Sprintf("%d/%d", snap.Account.Wins, snap.Account.Losses),
	)
	account.Render()

	limits := tablewriter.NewWriter(os.Stdout)
	limits.Header("Max Size", "Max Positions", "Family Exposure", "Daily DD", "Weekly DD", "Min Edge")
	limits.Append(
		snap.Limits.MaxPositionSize.String(),
		fmt.Sprintf("%d", snap.Limits.MaxOpenPositions),
		snap.Limits.MaxFamilyExposure.String(),
		snap.Limits.DailyDrawdownLimit.String(),
		snap.Limits.WeeklyDrawdown.String(),
		snap.Limits.MinEdge.String(),
	)
	limits.Render()

	if len(snap.Positions) > 0 {
		positions := tablewriter.NewWriter(os.Stdout)
		positions.Header("Market", "Side", "Qty", "Avg Price", "Opened")
		for _, p := range snap.Positions {
			positions.Append(
				p.MarketID,
				string(p.Side),
				p.Quantity.String(),
				p.AvgPrice.StringFixed(4),
				p.OpenedAt.Format("01-02 15:04"),
			)
		}
		positions.Render()
	} else {
		fmt.Println("no open positions")
	}

	working := snap.WorkingOrders("")
	if len(working) > 0 {
		orders := tablewriter.NewWriter(os.Stdout)
		orders.Header("Client ID", "Market", "Side", "State", "Price", "Remaining")
		for _, o := range working {
			orders.Append(
				shorten(o.ClientID),
				o.MarketID,
				string(o.Side),
				string(o.State),
				o.Price.StringFixed(2),
				o.Remaining.String(),
			)
		}
		orders.Render()
	} else {
		fmt.Println("no working orders")
	}

	pending := 0
	for _, sig := range snap.Signals {
		if sig.Status == core.SignalPending {
			pending++
		}
	}
	fmt.Printf("signals: %d total, %d pending\n", len(snap.Signals), pending)
	return nil
}

func setMode(store core.IStateStore, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("set-mode requires exactly one argument (normal|defensive|aggressive|halt)")
	}
	mode := core.Mode(args[0])
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", args[0])
	}

	_, err := store.Update(context.Background(), core.OwnerControl, func(s *core.Snapshot) error {
		s.ModeRequest = &core.ModeRequest{
			Mode:        mode,
			RequestedBy: "control",
			At:          time.Now(),
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("mode request %s written; the fast core applies it within one tick\n", mode)
	return nil
}

func setLimits(store core.IStateStore, args []string) error {
	fs := flag.NewFlagSet("set-limits", flag.ExitOnError)
	maxSize := fs.Float64("max-position-size", -1, "maximum contracts per order")
	maxPositions := fs.Int("max-open-positions", -1, "maximum concurrent open positions")
	maxExposure := fs.Float64("max-family-exposure", -1, "maximum capital at risk per market family")
	dailyDD := fs.Float64("daily-drawdown", -1, "daily drawdown limit as a balance fraction")
	weeklyDD := fs.Float64("weekly-drawdown", -1, "weekly drawdown limit as a balance fraction")
	minEdge := fs.Float64("min-edge", -1, "minimum edge to admit a trade")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NFlag() == 0 {
		return fmt.Errorf("set-limits: no limit flags given")
	}

	_, err := store.Update(context.Background(), core.OwnerControl, func(s *core.Snapshot) error {
		if *maxSize >= 0 {
			s.Limits.MaxPositionSize = decimalFrom(*maxSize)
		}
		if *maxPositions >= 0 {
			s.Limits.MaxOpenPositions = *maxPositions
		}
		if *maxExposure >= 0 {
			s.Limits.MaxFamilyExposure = decimalFrom(*maxExposure)
		}
		if *dailyDD >= 0 {
			s.Limits.DailyDrawdownLimit = decimalFrom(*dailyDD)
		}
		if *weeklyDD >= 0 {
			s.Limits.WeeklyDrawdown = decimalFrom(*weeklyDD)
		}
		if *minEdge >= 0 {
			s.Limits.MinEdge = decimalFrom(*minEdge)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println("limits updated; the fast core reads them on its next iteration")
	return nil
}

func decimalFrom(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
