// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command keyinfo reads OpenPGP key material from files (or stdin) and
// prints one summary per key, or the full model as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailforge/go-keyinfo/pkg/keyinfo"
)

func main() {
	jsonOut := flag.Bool("json", false, "print keys as JSON instead of summaries")
	fullFingerprint := flag.Bool("full-fingerprint", false, "print full fingerprints in summaries")
	autocryptAddr := flag.String("autocrypt-addr", "", "merge an Autocrypt addr= hint into the parsed identities")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(parseLevel(*logLevel)).
		With().
		Timestamp().
		Logger()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}

	now := time.Now()

	exitCode := 0

	for _, name := range args {
		if err := dump(os.Stdout, name, now, logger, *jsonOut, *fullFingerprint, *autocryptAddr); err != nil {
			logger.Error().Err(err).Str("file", name).Msg("failed to parse key material")

			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

func dump(w io.Writer, name string, now time.Time, logger zerolog.Logger, jsonOut, fullFingerprint bool, autocryptAddr string) error {
	blob, err := readInput(name)
	if err != nil {
		return err
	}

	opts := []keyinfo.Option{
		keyinfo.WithNow(now),
		keyinfo.WithLogger(logger),
	}

	if autocryptAddr != "" {
		opts = append(opts, keyinfo.WithClaim(keyinfo.Claim{Email: autocryptAddr, Origin: "Autocrypt"}))
	}

	keys, err := keyinfo.Parse(blob, opts...)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(keys)
	}

	for _, key := range keys {
		fmt.Fprintln(w, key.Summary(now, fullFingerprint))
		fmt.Fprintf(w, "Is usable = %v, Can encrypt = %v, Can sign = %v\n",
			key.IsUsable(now), key.CanEncrypt(now), key.CanSign(now))
	}

	return nil
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}

	return os.ReadFile(name)
}

func parseLevel(s string) zerolog.Level {
	var level zerolog.Level

	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zerolog.WarnLevel
	}

	return level
}
