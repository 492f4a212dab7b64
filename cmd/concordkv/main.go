// Command concordkv is a thin debug tool over the lsm facade.
//
// Usage:
//
//	concordkv --db=<path> <command> [args]
//
// Commands:
//
//	get <key>       Look up a key
//	put <key> <val> Write a key/value pair
//	delete <key>    Write a tombstone for a key
//	flush           Force-rotate the Active MemTable and drain the flush queue
//	compact [level] Submit a compaction task (level defaults to auto-select)
//	stats           Print aggregated engine counters
//
// There is no scan/dump command: the core exposes single-key point lookups
// and compaction-internal merge iteration only, so this tool (like the
// facade it drives) has no range cursor to expose.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/concordkv/concordkv/lsm"
)

var (
	dbPath    = flag.String("db", "", "Path to the data_dir (required)")
	hexOutput = flag.Bool("hex", false, "Print values in hex instead of as a string")
	help      = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help || len(flag.Args()) == 0 {
		printUsage()
		return
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag is required")
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "get":
		err = cmdGet(args)
	case "put":
		err = cmdPut(args)
	case "delete":
		err = cmdDelete(args)
	case "flush":
		err = cmdFlush()
	case "compact":
		err = cmdCompact(args)
	case "stats":
		err = cmdStats()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("concordkv - ConcordKV debug tool")
	fmt.Println()
	fmt.Println("Usage: concordkv --db=<path> <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  get <key>         Look up a key")
	fmt.Println("  put <key> <val>   Write a key/value pair")
	fmt.Println("  delete <key>      Write a tombstone for a key")
	fmt.Println("  flush             Force-rotate the Active MemTable and drain the flush queue")
	fmt.Println("  compact [level]   Submit a compaction task (omit level to auto-select)")
	fmt.Println("  stats             Print aggregated engine counters")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func openDB() (*lsm.DB, error) {
	return lsm.Open(*dbPath, lsm.DefaultOptions())
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: concordkv --db=<path> get <key>")
	}
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	value, found, err := db.Get(parseInput(args[0]))
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if !found {
		return fmt.Errorf("key not found")
	}
	fmt.Println(formatOutput(value))
	return nil
}

func cmdPut(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: concordkv --db=<path> put <key> <value>")
	}
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if err := db.Put(parseInput(args[0]), parseInput(args[1])); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	fmt.Println("OK")
	return nil
}

func cmdDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: concordkv --db=<path> delete <key>")
	}
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if err := db.Delete(parseInput(args[0])); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Println("OK")
	return nil
}

func cmdFlush() error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if err := db.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Println("OK")
	return nil
}

func cmdCompact(args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	lvl := -1
	if len(args) > 0 {
		lvl, err = strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid level %q: %w", args[0], err)
		}
	}
	if err := db.Compact(lvl); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	fmt.Println("OK")
	return nil
}

func cmdStats() error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	s := db.Stats()
	fmt.Printf("writes:             %d\n", s.Writes)
	fmt.Printf("reads:              %d\n", s.Reads)
	fmt.Printf("deletes:            %d\n", s.Deletes)
	fmt.Printf("cache_hits:         %d\n", s.CacheHits)
	fmt.Printf("cache_misses:       %d\n", s.CacheMisses)
	fmt.Printf("recovery_count:     %d\n", s.RecoveryCount)
	fmt.Printf("flushes_ok:         %d\n", s.FlushesOK)
	fmt.Printf("flushes_failed:     %d\n", s.FlushesFailed)
	fmt.Printf("compactions_ok:     %d\n", s.CompactionsOK)
	fmt.Printf("compactions_failed: %d\n", s.CompactionsFailed)
	return nil
}
