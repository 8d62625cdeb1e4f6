// Command node runs a stakebox node: the block producer, the JSON-RPC
// server and, optionally, the randomness oracle.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/stakebox/vm/modules/asset"
	_ "github.com/tolelom/stakebox/vm/modules/economy"
	_ "github.com/tolelom/stakebox/vm/modules/lootbox"
	_ "github.com/tolelom/stakebox/vm/modules/staking"
)

var app *cli.App

// Commonly used command line flags.
var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.toml",
		Usage:   "path to the node config (.toml or .json)",
	}
	outFlag = &cli.StringFlag{
		Name:     "out",
		Aliases:  []string{"o"},
		Usage:    "output file",
		Required: true,
	}
	passwordEnvFlag = &cli.StringFlag{
		Name:  "password-env",
		Value: "STAKEBOX_PASSWORD",
		Usage: "environment variable holding the keystore password",
	}
)

func init() {
	app = cli.NewApp()
	app.Name = "stakebox"
	app.Usage = "NFT staking and loot-box app chain node"
	app.Commands = []*cli.Command{
		commandRun,
		commandGenKey,
		commandGenVRFKey,
		commandInitConfig,
		commandGenCert,
	}
	app.DefaultCommand = commandRun.Name
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
