// Command parse extracts incidents from a saved copy of the dispatch feed and
// prints them as JSON. It is meant for checking parser changes against real
// pages without touching the live feed or the social account.
//
// Usage:
//
//	go run ./cmd/parse -file today.html
//	curl -s "$FEED_URL" | go run ./cmd/parse
//	go run ./cmd/parse -units "E2 E10 L6 B4 STAF92"
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/couchcryptid/fire-dispatch-etl/internal/domain"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "feed document to parse (default stdin)")
	units := fs.String("units", "", "summarize a raw unit string instead of parsing a document")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	warnUnknown := func(token string) {
		logger.Warn("unknown unit type", "unit", token)
	}

	if *units != "" {
		fmt.Fprintln(stdout, domain.SummarizeUnits(*units, warnUnknown))
		return 0
	}

	in := stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			logger.Error("open feed document", "error", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	incidents, err := domain.ParseDocument(in, domain.ParseOptions{OnUnknownUnit: warnUnknown})
	if err != nil {
		logger.Error("parse feed document", "error", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(incidents); err != nil {
		logger.Error("encode incidents", "error", err)
		return 1
	}
	return 0
}
