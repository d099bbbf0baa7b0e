package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	testorch "github.com/ethereum-optimism/infra/op-testorch"
	"github.com/ethereum-optimism/infra/op-testorch/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testorch"
	app.Usage = "Test execution and reporting for build graphs"
	app.Description = "op-testorch runs declared test binaries as build actions and reports flaky and failed tests"
	app.ArgsUsage = "[targets...]"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(setup)
	app.ExitErrHandler = exitWithStatus
	return app
}

// exitWithStatus terminates with the exit status the error maps to
func exitWithStatus(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	cli.HandleExitCoder(cli.Exit(err.Error(), testorch.ExitCode(err)))
}

func setup(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logger := oplog.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx))
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := testorch.NewConfig(ctx, logger)
	if err != nil {
		return nil, testorch.NewRuntimeError("config", err)
	}
	cfg.Log.Debug("Config", "config", cfg)

	orch, err := testorch.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, testorch.NewRuntimeError("setup", err)
	}
	return orch, nil
}
