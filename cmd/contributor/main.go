// Command contributor is the CLI a ceremony participant runs to join
// a phase1 trusted-setup round, computes and uploads a contribution,
// and checks on the public audit trail.
//
// Usage:
//
//	contributor contribute --url https://ceremony.example --keypair ./keypair [--offline]
//	contributor export-keypair --out ./keypair
//	contributor get-contributions --url https://ceremony.example
//	contributor close-ceremony --url https://ceremony.example
//	contributor verify-contributions --url https://ceremony.example --admin-token ...
//	contributor update-coordinator --url https://ceremony.example --admin-token ...
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/trusted-setup/phase1-coordinator/client"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "contributor",
		Usage:   "join and contribute to a phase1 trusted-setup ceremony",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Commands: []*cli.Command{
			contributeCommand,
			exportKeypairCommand,
			getContributionsCommand,
			closeCeremonyCommand,
			verifyContributionsCommand,
			updateCoordinatorCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var urlFlag = &cli.StringFlag{
	Name:     "url",
	Usage:    "the coordinator's base URL",
	Required: true,
}

var contributeCommand = &cli.Command{
	Name:  "contribute",
	Usage: "join the queue and contribute to every assigned chunk",
	Flags: []cli.Flag{
		urlFlag,
		&cli.StringFlag{Name: "keypair", Value: "./keypair", Usage: "path to a keypair file written by export-keypair"},
		&cli.StringFlag{Name: "work-dir", Value: ".", Usage: "directory for offline challenge/contribution files"},
		&cli.BoolFlag{Name: "offline", Usage: "compute the contribution out of process via challenge.params/contribution.params"},
	},
	Action: func(c *cli.Context) error {
		kp, err := client.ReadKeypairFile(c.String("keypair"))
		if err != nil {
			return fmt.Errorf("read keypair: %w", err)
		}

		cfg := client.DefaultConfig(c.String("url"), kp)
		cfg.Offline = c.Bool("offline")
		cfg.WorkDir = c.String("work-dir")

		runner := client.NewRunner(cfg)
		if err := runner.Run(); err != nil {
			return fmt.Errorf("contribution failed in state %s: %w", runner.State(), err)
		}
		fmt.Printf("contribution complete, final state: %s\n", runner.State())
		return nil
	},
}

// exportKeypairCommand matches the stable `export-keypair <mnemonic_path>`
// subcommand signature, writing to the --out path (./keypair by
// default). Mnemonic-derived
// key recovery is out of scope (see client.GenerateKeypair); the
// positional argument is accepted but unused, so a script invoking the
// documented subcommand form doesn't need to know that.
var exportKeypairCommand = &cli.Command{
	Name:      "export-keypair",
	Usage:     "generate a fresh Ed25519 keypair and write it to ./keypair",
	ArgsUsage: "<mnemonic_path>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Value: "./keypair", Usage: "output path for the keypair file"},
	},
	Action: func(c *cli.Context) error {
		kp, err := client.GenerateKeypair()
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		path := c.String("out")
		if err := client.WriteKeypairFile(path, kp); err != nil {
			return fmt.Errorf("write keypair: %w", err)
		}
		fmt.Printf("wrote keypair to %s\npublic key: %s\n", path, kp.PublicKeyHex())
		return nil
	},
}

var getContributionsCommand = &cli.Command{
	Name:  "get-contributions",
	Usage: "print the public audit list of submitted contributions",
	Flags: []cli.Flag{urlFlag},
	Action: func(c *cli.Context) error {
		contributions, err := client.GetContributions(c.String("url"))
		if err != nil {
			return fmt.Errorf("get contributions: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(contributions)
	},
}

// closeCeremonyCommand prints how many contributions the public audit
// list records; it does not print the entries themselves. Closing the
// ceremony itself is an operator (admin) action,
// not a participant one, so this never calls an admin endpoint.
var closeCeremonyCommand = &cli.Command{
	Name:  "close-ceremony",
	Usage: "confirm whether the ceremony round has finished",
	Flags: []cli.Flag{urlFlag},
	Action: func(c *cli.Context) error {
		contributions, err := client.GetContributions(c.String("url"))
		if err != nil {
			return fmt.Errorf("get contributions: %w", err)
		}
		fmt.Printf("%d contributions recorded\n", len(contributions))
		return nil
	},
}

var adminTokenFlag = &cli.StringFlag{
	Name:     "admin-token",
	Usage:    "bearer token for the coordinator's admin endpoints",
	Required: true,
}

var verifyContributionsCommand = &cli.Command{
	Name:  "verify-contributions",
	Usage: "debug: trigger one verification sweep on the coordinator",
	Flags: []cli.Flag{urlFlag, adminTokenFlag},
	Action: func(c *cli.Context) error {
		if err := client.ForceVerify(c.String("url"), c.String("admin-token")); err != nil {
			return fmt.Errorf("force verify: %w", err)
		}
		fmt.Println("verification sweep triggered")
		return nil
	},
}

var updateCoordinatorCommand = &cli.Command{
	Name:  "update-coordinator",
	Usage: "debug: trigger one queue-tick sweep on the coordinator",
	Flags: []cli.Flag{urlFlag, adminTokenFlag},
	Action: func(c *cli.Context) error {
		if err := client.ForceUpdate(c.String("url"), c.String("admin-token")); err != nil {
			return fmt.Errorf("force update: %w", err)
		}
		fmt.Println("queue tick triggered")
		return nil
	},
}
