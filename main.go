package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/vtok/token_ledger/ledger"
	"github.com/vtok/token_ledger/ledger/logger"
	"github.com/vtok/token_ledger/store"
)

func main() {

	app := &cli.App{
		Name:  "token_ledger",
		Usage: "watch ERC20 transfer events and maintain an off-chain balance ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "mysql connection string", EnvVars: []string{"LEDGER_DB"}, Required: true},
			&cli.StringSliceFlag{Name: "provider", Usage: "web3 json-rpc endpoint, repeatable", EnvVars: []string{"LEDGER_PROVIDERS"}, Required: true},
			&cli.StringFlag{Name: "contract", Usage: "token contract address", EnvVars: []string{"LEDGER_CONTRACT"}, Required: true},
			&cli.StringFlag{Name: "event", Usage: "event signature to watch", Value: ledger.DefaultEventSignature},
			&cli.Uint64Flag{Name: "from-block", Usage: "lowest block for the initial backfill", Value: 0},
			&cli.IntFlag{Name: "workers", Usage: "concurrent dispatch workers", Value: 4},
			&cli.Uint64Flag{Name: "scan-unit", Usage: "blocks per getLogs request", Value: 10000},
			&cli.DurationFlag{Name: "poll-interval", Usage: "live poll interval", Value: 2 * time.Second},
			&cli.StringFlag{Name: "metrics-addr", Usage: "prometheus listen address", Value: ":9090"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: "info"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logger.Errorf("token_ledger stopped: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {

	logger.Setup(c.String("log-level"))

	config := &ledger.WatchConfigure{
		DbConnString:    c.String("db"),
		Web3Providers:   c.StringSlice("provider"),
		ContractAddress: c.String("contract"),
		EventSignature:  c.String("event"),
		FromBlock:       c.Uint64("from-block"),
		DispatchWorker:  c.Int("workers"),
		ScanUnit:        c.Uint64("scan-unit"),
		PollInterval:    c.Duration("poll-interval"),
	}

	if err := config.Err(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := store.NewDatabase(config.DbConnString)
	if err != nil {
		return err
	}
	defer database.Close()

	database.SetMaxOpenConns(config.DispatchWorker * 2)

	if err = database.EnsureSchema(ctx); err != nil {
		return err
	}

	decoder, err := ledger.NewTransferDecoder(config.Signature())
	if err != nil {
		return err
	}

	source, err := ledger.NewWeb3EventSource(config, decoder.Topic())
	if err != nil {
		return err
	}
	defer source.Close()

	dispatcher, err := ledger.NewDispatcher(ctx, config.DispatchWorker, database, decoder)
	if err != nil {
		return err
	}
	dispatcher.Run()

	checkpoint, err := database.BackfillCheckpoint(ctx)
	if err != nil {
		return err
	}

	backfillFrom := config.FromBlock
	if checkpoint > backfillFrom {
		backfillFrom = checkpoint
	}

	go serveMetrics(c.String("metrics-addr"))

	logger.Infof("watching %v on %v provider(s), backfill from block %v",
		config.ContractAddress, len(config.Web3Providers), backfillFrom)

	watcher := ledger.NewWatcher(source, dispatcher, backfillFrom)
	err = watcher.Run(ctx)

	// let in-flight dispatches finish, claimed rows resume next start
	dispatcher.Done()
	dispatcher.Wait()

	return err
}

func serveMetrics(addr string) {

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warnf("metrics server stopped: %v", err)
	}
}
