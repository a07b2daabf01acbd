package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"

	"crowdsale/config"
	"crowdsale/native/sale"
)

func runConfig(args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("config requires a subcommand: init or show")
	}
	flags := flag.NewFlagSet("config "+args[0], flag.ContinueOnError)
	path := flags.String("path", defaultSaleConfig, "Path to the sale configuration")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	switch args[0] {
	case "init":
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("%s already exists", *path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cfg, err := config.Load(*path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\ncontroller: %s\nkeystore: %s\n", *path, cfg.Controller, cfg.ControllerKeystorePath)
		fmt.Fprintln(out, "set the Wallets section before starting saled")
		return nil
	case "show":
		if _, err := os.Stat(*path); err != nil {
			return err
		}
		cfg, err := config.Load(*path)
		if err != nil {
			return err
		}
		return showConfig(cfg, out)
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

func showConfig(cfg *config.Config, out io.Writer) error {
	fmt.Fprintf(out, "token: %s (%s)\ncontroller: %s\npeg: %d USD/ether\n", cfg.Token, cfg.TokenName, cfg.Controller, cfg.EtherPeggedValue)
	for _, phase := range []sale.Phase{sale.PhasePresale, sale.PhaseGeneral} {
		saleCfg, err := cfg.SaleConfig(phase)
		if err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}
		fmt.Fprintf(out, "%s:\n", phase)
		fmt.Fprintf(out, "  min: %s ether\n", etherString(saleCfg.MinContribution))
		fmt.Fprintf(out, "  max: %s ether\n", etherString(saleCfg.MaxContribution))
		fmt.Fprintf(out, "  cap: %s ether\n", etherString(saleCfg.Cap))
		for i, tier := range saleCfg.Tiers {
			fmt.Fprintf(out, "  tier %d: up to %s ether at %d bps\n", i, etherString(tier.Limit), tier.MultiplierBps)
		}
		fmt.Fprintf(out, "  beyond tiers: %d bps\n", saleCfg.BaseMultiplierBps)
	}
	return nil
}

func etherString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(wei, big.NewInt(1_000_000_000_000_000_000)).FloatString(6)
}
