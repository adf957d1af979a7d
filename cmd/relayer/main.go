// Package main launches the cross-chain tBTC relayer: it mints deposits
// revealed on supported chains against the L1 tBTC bridge and settles
// redemptions flowing the other way.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/keep-network/tbtc-relayer/monitoring/prometheus"
	"github.com/keep-network/tbtc-relayer/relayer/node"
	"github.com/keep-network/tbtc-relayer/runtime/version"
)

var log = logrus.WithField("prefix", "main")

func startRelayer(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	relayer, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	relayer.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "tbtc-relayer"
	app.Usage = "relays tBTC deposits and redemptions between the L1 bridge and destination chains"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startRelayer
	app.Before = func(ctx *cli.Context) error {
		switch ctx.String(LogFormatFlag.Name) {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}
		logrus.AddHook(prometheus.NewLogrusCollector())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
