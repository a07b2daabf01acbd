package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/config"
	"crowdsale/crypto"
	"crowdsale/native/ceiling"
)

type stepList []string

func (s *stepList) String() string { return strings.Join(*s, ",") }

func (s *stepList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// commitmentStep is one planned ceiling step. The salt must stay secret until
// the step is revealed.
type commitmentStep struct {
	Index uint64 `json:"index"`
	Delta string `json:"delta"`
	Last  bool   `json:"last"`
	Salt  string `json:"salt"`
	Hash  string `json:"hash"`
}

func runCommit(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("commit", flag.ContinueOnError)
	var deltas stepList
	flags.Var(&deltas, "delta", "Cap increment of the next step (repeatable; wei, \"<n> ether\" or \"<n> usd\")")
	final := flags.Bool("final", true, "Mark the last listed step as the final ceiling step")
	peg := flags.Uint64("peg", 400, "USD per ether used for usd amounts")
	salt := flags.String("salt", "", "Hex salt to use for a single step instead of a random one")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if len(deltas) == 0 {
		return fmt.Errorf("at least one -delta is required")
	}
	amounts := make([]*big.Int, 0, len(deltas))
	for _, raw := range deltas {
		value, err := config.ParseAmount(raw, *peg)
		if err != nil {
			return err
		}
		amounts = append(amounts, value)
	}
	saltFn := crypto.RandomSalt
	if trimmed := strings.TrimSpace(*salt); trimmed != "" {
		if len(amounts) != 1 {
			return fmt.Errorf("-salt may only be used with a single -delta")
		}
		fixed := common.HexToHash(trimmed)
		saltFn = func() (common.Hash, error) { return fixed, nil }
	}
	steps, err := buildCommitments(amounts, *final, saltFn)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(steps)
}

func buildCommitments(deltas []*big.Int, final bool, salts func() (common.Hash, error)) ([]commitmentStep, error) {
	steps := make([]commitmentStep, 0, len(deltas))
	for i, delta := range deltas {
		salt, err := salts()
		if err != nil {
			return nil, fmt.Errorf("draw salt: %w", err)
		}
		last := final && i == len(deltas)-1
		hash, err := ceiling.CommitmentHash(delta, last, salt)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, commitmentStep{
			Index: uint64(i),
			Delta: delta.String(),
			Last:  last,
			Salt:  salt.Hex(),
			Hash:  hash.Hex(),
		})
	}
	return steps, nil
}
