package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"

	"crowdsale/cmd/internal/passphrase"
	"crowdsale/crypto"
)

func runKeygen(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := flags.String("out", "controller.keystore", "Output path for the keystore file")
	passEnv := flags.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := flags.Bool("force", false, "Overwrite an existing keystore file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("keystore %s already exists (use -force to overwrite)", *path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "controller keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "address: %s\nkeystore: %s\n", key.Address().Hex(), *path)
	return nil
}

func runAddress(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("address", flag.ContinueOnError)
	path := flags.String("keystore", "controller.keystore", "Keystore file to read")
	passEnv := flags.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := flags.Parse(args); err != nil {
		return err
	}
	pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*path, pass)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	fmt.Fprintln(out, key.Address().Hex())
	return nil
}
