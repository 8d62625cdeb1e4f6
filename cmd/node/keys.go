package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/crypto/certgen"
	"github.com/tolelom/stakebox/oracle"
	"github.com/tolelom/stakebox/wallet"
)

var commandGenKey = &cli.Command{
	Name:  "genkey",
	Usage: "generate an ed25519 account key (validator or oracle account)",
	Flags: []cli.Flag{outFlag, passwordEnvFlag},
	Action: func(ctx *cli.Context) error {
		path := ctx.String(outFlag.Name)
		if err := refuseOverwrite(path); err != nil {
			return err
		}
		w, err := wallet.Generate("")
		if err != nil {
			return err
		}
		if err := wallet.SaveKey(path, password(ctx.String(passwordEnvFlag.Name)), w.PrivKey()); err != nil {
			return err
		}
		fmt.Printf("Public key: %s\nSaved to:   %s\n", w.PubKey(), path)
		return nil
	},
}

var commandGenVRFKey = &cli.Command{
	Name:  "genvrfkey",
	Usage: "generate a secp256k1 VRF key for the randomness oracle",
	Flags: []cli.Flag{outFlag, passwordEnvFlag},
	Action: func(ctx *cli.Context) error {
		path := ctx.String(outFlag.Name)
		if err := refuseOverwrite(path); err != nil {
			return err
		}
		p, err := oracle.GenerateProver()
		if err != nil {
			return err
		}
		if err := wallet.SaveVRFKey(path, password(ctx.String(passwordEnvFlag.Name)), p.Key()); err != nil {
			return err
		}
		fmt.Printf("VRF public key: %s\nSaved to:       %s\n", p.PublicKeyHex(), path)
		return nil
	},
}

var commandInitConfig = &cli.Command{
	Name:  "init-config",
	Usage: "write a default development config",
	Flags: []cli.Flag{outFlag},
	Action: func(ctx *cli.Context) error {
		path := ctx.String(outFlag.Name)
		if err := refuseOverwrite(path); err != nil {
			return err
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", path)
		return nil
	},
}

var commandGenCert = &cli.Command{
	Name:  "gencert",
	Usage: "issue a CA and RPC server/client certificates for rpc_tls",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "dir", Value: "tls", Usage: "output directory"},
		&cli.StringSliceFlag{Name: "host", Usage: "extra IP or DNS name for the server certificate"},
	},
	Action: func(ctx *cli.Context) error {
		b, err := certgen.Issue(ctx.String("dir"), ctx.StringSlice("host"), time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("[rpc_tls]\ncert_file = %q\nkey_file = %q\nclient_ca = %q\n\nclient: %s %s\n",
			b.ServerCert, b.ServerKey, b.CACert, b.ClientCert, b.ClientKey)
		return nil
	},
}

func refuseOverwrite(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return nil
}

// password reads a keystore password from env; CLI flags would leak it via ps.
func password(env string) string {
	pw := os.Getenv(env)
	if pw == "" {
		slog.Warn("keystore password not set, using an empty password", "env", env)
	}
	return pw
}
