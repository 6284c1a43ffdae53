package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/marcus/sprout/internal/api"
	"github.com/marcus/sprout/internal/auth"
)

func runToken(args []string) {
	cfg := api.LoadConfig()

	fs := flag.NewFlagSet("token", flag.ExitOnError)
	ttl := fs.Duration("ttl", cfg.TokenTTL, "token lifetime")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: sprout-sync token [--ttl 8760h] <user-id> <device-id>

Mints an access token for one device of a user, signed with
SPROUT_SYNC_JWT_SECRET. Give it to the device with:
  sprout sync init --url <server> --token <token>`)
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (set SPROUT_SYNC_JWT_SECRET)\n", err)
		os.Exit(1)
	}
	token, err := signer.Issue(fs.Arg(0), fs.Arg(1), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
