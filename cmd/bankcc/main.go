// bankcc lowers a JSON-encoded translation unit, produced by an external
// front end, into the abstract op stream consumed by the instruction
// encoder. The listing goes to stdout; diagnostics go to stderr.
//
// Memory geometry comes from the environment:
//
//	BANKCC_BANK_WORDS  addressable words per bank
//	BANKCC_MAX_BANKS   banks available for static storage
//	BANKCC_DATA_BANK   bank forced onto integer-to-pointer casts
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"

	"bankcc/pkg/backend"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [unit.json]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	in := os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "open error:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	unit, err := backend.DecodeUnit(in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode error:", err)
		os.Exit(1)
	}

	cfg := backend.DefaultConfig()
	cfg.BankWords = env.Int("BANKCC_BANK_WORDS", cfg.BankWords)
	cfg.MaxBanks = env.Int("BANKCC_MAX_BANKS", cfg.MaxBanks)
	cfg.DataBank = env.Int("BANKCC_DATA_BANK", cfg.DataBank)

	prog, errs := backend.Compile(unit, cfg)
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, "error:", e)
	}
	prog.Print(os.Stdout)
	if len(errs) > 0 {
		os.Exit(1)
	}
}
