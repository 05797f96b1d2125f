package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Ledgerlink/client"
	"github.com/bartossh/Ledgerlink/configuration"
	"github.com/bartossh/Ledgerlink/executor"
	"github.com/bartossh/Ledgerlink/logger"
	"github.com/bartossh/Ledgerlink/logging"
	"github.com/bartossh/Ledgerlink/logo"
	"github.com/bartossh/Ledgerlink/telemetry"
	"github.com/bartossh/Ledgerlink/txstore"
)

const usage = `Ledgerctl builds, signs and submits ledger transactions and follows their outcome.
Transactions can be stored locally to collect signatures of independent signers before submission.`

// app holds what the commands share, built lazily from the configuration.
type app struct {
	config  string
	env     string
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     configuration.Configuration
	log     logger.Logger
	closers []io.Closer
}

func main() {
	logo.Display()

	a := &app{}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		a.cancel()
	}()

	cliApp := &cli.App{
		Name:  "ledgerctl",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &a.config,
			},
			&cli.StringFlag{
				Name:        "env",
				Aliases:     []string{"e"},
				Usage:       "Override operator credentials with the .env `FILE`",
				Destination: &a.env,
			},
		},
		Before: func(_ *cli.Context) error { return a.configure() },
		After:  func(_ *cli.Context) error { return a.close() },
		Commands: []*cli.Command{
			keygenCommand(a),
			balanceCommand(a),
			transferCommand(a),
			topicCommand(a),
			receiptCommand(a),
			storeCommand(a),
			signerCommand(a),
			scheduleCommand(a),
			mirrorCommand(a),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func (a *app) configure() error {
	var cfg configuration.Configuration
	if a.config != "" {
		var err error
		if cfg, err = configuration.Read(a.config); err != nil {
			return err
		}
	}
	var envFiles []string
	if a.env != "" {
		envFiles = append(envFiles, a.env)
	}
	if err := cfg.LoadEnv(envFiles...); err != nil {
		return err
	}
	a.cfg = cfg

	callbackOnErr := func(err error) {
		fmt.Println("error with logger: ", err)
	}
	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("error with logger: %s", err))
	}

	writers := []io.Writer{}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, f)
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		a.log = logging.NewConsole(callbackOnErr, callbackOnFatal).WithLevel(cfg.Log.Level)
		return nil
	}
	a.log = logging.New(callbackOnErr, callbackOnFatal, writers...).WithLevel(cfg.Log.Level)
	return nil
}

// client connects to the network, exposing executor metrics when telemetry is configured.
func (a *app) client() (*client.Client, error) {
	if a.config == "" {
		return nil, errors.New("please specify configuration file path with -c <path to file>")
	}
	var opts []client.Option
	if a.cfg.Telemetry.Port != 0 {
		m, err := telemetry.Run(a.ctx, a.cancel, a.cfg.Telemetry.Port)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithExecutorOptions(executor.WithObserver(m)))
	}
	c, err := client.New(a.cfg.Client, a.log, opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, c)
	return c, nil
}

func (a *app) store() (*txstore.Store, error) {
	s, err := txstore.Open(a.ctx, a.cfg.Store, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, s)
	return s, nil
}

func (a *app) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

func success(format string, args ...any) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}
