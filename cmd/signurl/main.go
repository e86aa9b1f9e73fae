// Command signurl mints or checks media URLs with the server's settings.
//
//	signurl -id pictures/7/3f2a.jpg [-ttl 3600] [-now 1700000000]
//	signurl -verify -id pictures/7/3f2a.jpg -e 1700003600 -st fIhZtm05VaKJXy9LqVSvdQ
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"galleria/internal/config"
	"galleria/internal/security"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("signurl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	id := fs.String("id", "", "resource id, e.g. pictures/7/3f2a.jpg")
	ttl := fs.Int64("ttl", 0, "lifetime in seconds (default GALLERY_SIGNED_URL_TTL)")
	now := fs.Int64("now", 0, "unix time to sign or verify at (default current time)")
	asJSON := fs.Bool("json", false, "print the full signed reference as JSON")
	verify := fs.Bool("verify", false, "verify -e and -st instead of signing")
	expires := fs.Int64("e", 0, "expiry to verify")
	sig := fs.String("st", "", "signature to verify")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *id == "" {
		fmt.Fprintln(stderr, "signurl: -id is required")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "signurl:", err)
		return 1
	}
	signer, err := cfg.Signer()
	if err != nil {
		fmt.Fprintln(stderr, "signurl:", err)
		return 1
	}
	if set["now"] {
		fixed := time.Unix(*now, 0)
		signer.Now = func() time.Time { return fixed }
	}

	if *verify {
		if signer.Verify(*id, *expires, *sig) {
			fmt.Fprintln(stdout, "valid")
			return 0
		}
		fmt.Fprintln(stdout, "invalid")
		return 1
	}

	lifetime := signer.TTL
	if set["ttl"] {
		lifetime, err = security.TTLFromSeconds(*ttl)
		if err != nil {
			fmt.Fprintf(stderr, "signurl: -ttl %d: %v\n", *ttl, err)
			return 1
		}
	}
	ref, err := signer.Sign(*id, lifetime)
	if err != nil {
		fmt.Fprintln(stderr, "signurl:", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ref); err != nil {
			fmt.Fprintln(stderr, "signurl:", err)
			return 1
		}
		return 0
	}
	fmt.Fprintln(stdout, ref.URL)
	return 0
}
