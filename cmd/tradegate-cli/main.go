package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/api"
	"tradegate/internal/domain"
	"tradegate/pkg/tradegate"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradegate-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  submit     Submit an order\n")
		fmt.Fprintf(os.Stderr, "  cancel     Cancel an order\n")
		fmt.Fprintf(os.Stderr, "  order      Show an order and its executions\n")
		fmt.Fprintf(os.Stderr, "  fill       Report a fill against an order\n")
		fmt.Fprintf(os.Stderr, "  positions  Show account positions and buying power\n")
		fmt.Fprintf(os.Stderr, "  scan       Run surveillance over an account\n")
		fmt.Fprintf(os.Stderr, "  events     Stream events over gRPC\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\nThe server is taken from TRADEGATE_URL and TRADEGATE_GRPC.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := tradegate.NewClient(envOr("TRADEGATE_URL", "http://localhost:8080"))
	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("tradegate-cli %s\n", version)
	case "submit":
		err = submit(ctx, client, args)
	case "cancel":
		err = cancelOrder(ctx, client, args)
	case "order":
		err = showOrder(ctx, client, args)
	case "fill":
		err = fill(ctx, client, args)
	case "positions":
		err = positions(ctx, client, args)
	case "scan":
		err = scan(ctx, client, args)
	case "events":
		err = streamEvents(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func submit(ctx context.Context, c *tradegate.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	account := fs.String("account", "", "account id")
	symbol := fs.String("symbol", "", "symbol")
	side := fs.String("side", "buy", "buy, sell, sell_short or buy_to_cover")
	typ := fs.String("type", "market", "order type")
	qty := fs.String("qty", "", "quantity")
	price := fs.String("price", "", "limit price")
	stop := fs.String("stop", "", "stop price")
	limit := fs.String("limit", "", "limit price of stop_limit, twap and vwap orders")
	trail := fs.String("trail", "", "trailing amount")
	display := fs.String("display", "", "iceberg display quantity")
	horizon := fs.String("horizon", "", "twap/vwap horizon, e.g. 30m")
	peg := fs.String("peg", "", "peg reference: mid, primary or market")
	offset := fs.String("offset", "", "peg offset")
	tif := fs.String("tif", "day", "day, gtc, ioc or fok")
	extended := fs.Bool("extended", false, "allow extended hours")
	locate := fs.String("locate", "", "borrow locate id for short sales")
	fs.Parse(args)

	req := api.SubmitOrderRequest{
		AccountID:     *account,
		Symbol:        *symbol,
		Side:          *side,
		Type:          *typ,
		Horizon:       *horizon,
		PegReference:  *peg,
		TimeInForce:   *tif,
		ExtendedHours: *extended,
		LocateID:      *locate,
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"qty", *qty, &req.Quantity},
		{"price", *price, &req.Price},
		{"stop", *stop, &req.StopPrice},
		{"limit", *limit, &req.LimitPrice},
		{"trail", *trail, &req.Trail},
		{"display", *display, &req.DisplayQuantity},
		{"offset", *offset, &req.Offset},
	} {
		if f.src == "" {
			continue
		}
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return fmt.Errorf("-%s: %w", f.name, err)
		}
		*f.dst = v
	}

	o, err := c.SubmitOrder(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(o)
}

func cancelOrder(ctx context.Context, c *tradegate.Client, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	reason := fs.String("reason", "", "cancel reason")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tradegate-cli cancel [-reason text] <order-id>")
	}
	o, err := c.CancelOrder(ctx, fs.Arg(0), *reason)
	if err != nil {
		return err
	}
	return printJSON(o)
}

func showOrder(ctx context.Context, c *tradegate.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tradegate-cli order <order-id>")
	}
	o, err := c.GetOrder(ctx, args[0])
	if err != nil {
		return err
	}
	execs, err := c.Executions(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(struct {
		Order      *api.OrderView     `json:"order"`
		Executions []domain.Execution `json:"executions"`
	}{o, execs})
}

func fill(ctx context.Context, c *tradegate.Client, args []string) error {
	fs := flag.NewFlagSet("fill", flag.ExitOnError)
	execID := fs.String("id", "", "execution id (generated when empty)")
	qty := fs.String("qty", "", "filled quantity")
	price := fs.String("price", "", "fill price")
	venue := fs.String("venue", "", "executing venue")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tradegate-cli fill -qty N -price P <order-id>")
	}
	q, err := decimal.NewFromString(*qty)
	if err != nil {
		return fmt.Errorf("-qty: %w", err)
	}
	p, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("-price: %w", err)
	}
	res, err := c.RecordFill(ctx, fs.Arg(0), api.FillRequest{
		ExecutionID: *execID,
		Quantity:    q,
		Price:       p,
		Venue:       *venue,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func positions(ctx context.Context, c *tradegate.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tradegate-cli positions <account-id>")
	}
	acct, err := c.GetAccount(ctx, args[0])
	if err != nil {
		return err
	}
	pos, err := c.GetPositions(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(struct {
		Account   *api.AccountView  `json:"account"`
		Positions []domain.Position `json:"positions"`
	}{acct, pos})
}

func scan(ctx context.Context, c *tradegate.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tradegate-cli scan <account-id>")
	}
	alert, err := c.Scan(ctx, args[0])
	if err != nil {
		return err
	}
	if alert == nil {
		fmt.Println("no suspicious activity")
		return nil
	}
	return printJSON(alert)
}

func streamEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	account := fs.String("account", "", "only events of this account")
	types := fs.String("types", "", "comma separated event types")
	snapshot := fs.Bool("snapshot", true, "start with recent history")
	fs.Parse(args)

	opts := tradegate.StreamOptions{AccountID: *account, Snapshot: *snapshot}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			opts.Types = append(opts.Types, domain.EventType(t))
		}
	}
	return tradegate.StreamEvents(ctx, envOr("TRADEGATE_GRPC", "localhost:9090"), opts, func(ev domain.Event) error {
		fmt.Printf("%s %-18s order=%s account=%s %s\n",
			ev.At.Local().Format(time.TimeOnly), ev.Type, ev.OrderID, ev.AccountID, ev.Reason)
		return nil
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
