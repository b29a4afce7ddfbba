// cmd/pagecachectl/main.go
//
// pagecachectl - interactive shell over a pagecache.Cache store.
//
// Usage:
//
//	pagecachectl [-config startup.yaml] <db-dir>
//
// If no db-dir is given, opens a temporary store that is removed on
// exit. -config optionally names a YAML file overriding segment size,
// consolidation threshold, snapshot cadence, flush period, and
// fragment codec.
package main

import (
	"flag"
	"fmt"
	"os"

	"pagecache/pkg/pagecachectl"
)

func main() {
	configPath := flag.String("config", "", "optional YAML startup config")
	flag.Parse()

	dbPath := ""
	if flag.NArg() > 0 {
		dbPath = flag.Arg(0)
	}

	opts, err := pagecachectl.LoadStartupOptions(dbPath, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagecachectl: %v\n", err)
		os.Exit(1)
	}
	if dbPath == "" {
		opts.Temporary = true
	}

	repl, err := pagecachectl.New(opts, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagecachectl: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}
