package main

import (
	"fmt"
	"io"
	"os"
)

const (
	defaultSaleConfig = "./crowdsale.toml"
	defaultPassEnv    = "SALECTL_KEYSTORE_PASS"
	defaultSecretEnv  = "SALED_JWT_SECRET"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		usage(out)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], out)
	case "address":
		return runAddress(args[1:], out)
	case "commit":
		return runCommit(args[1:], out)
	case "token":
		return runToken(args[1:], out)
	case "config":
		return runConfig(args[1:], out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "Usage: salectl <command> [flags]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  keygen    generate a controller key and write it to a keystore")
	fmt.Fprintln(out, "  address   print the address held by a keystore")
	fmt.Fprintln(out, "  commit    build ceiling commitments from deltas and salts")
	fmt.Fprintln(out, "  token     mint a saled bearer token")
	fmt.Fprintln(out, "  config    init or show the sale configuration")
}
