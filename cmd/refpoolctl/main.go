// refpoolctl is an interactive inspector for a refpool storage engine.
//
// Usage:
//
//	refpoolctl [opts]
//	refpoolctl --config engine.json
//
// Options:
//
//	-c, --config        JWCC config file (overrides the flags below)
//	-d, --dir           Spill directory (default: a temp directory)
//	-m, --mem-limit     Memory tier budget in bytes (default: 1MiB)
//	-D, --device-limit  Secondary tier budget in bytes (default: 64MiB)
//	-p, --policy        Eviction policy, LRU or MRU (default: LRU)
//	-z, --gzip          Compress spill files
//	-v, --verbose       Log engine activity to stderr
//
// Commands (in REPL):
//
//	put <text>        Store a value, print its ref id
//	get <id>          Retrieve a value
//	drop <id>         Drop a ref
//	touch <id>        Recency-bump a ref without materializing it
//	retain on|off     Toggle retain-on-drop
//	stats             Show hit/miss/evict counters
//	info              Show tier capacity and utilization
//	help              Show this help
//	exit / quit / q   Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/calvinalkan/refpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		dir         string
		memLimit    uint64
		deviceLimit uint64
		policy      string
		gz          bool
		verbose     bool
	)

	pflag.StringVarP(&configPath, "config", "c", "", "JWCC config file")
	pflag.StringVarP(&dir, "dir", "d", "", "spill directory")
	pflag.Uint64VarP(&memLimit, "mem-limit", "m", 1<<20, "memory tier budget in bytes")
	pflag.Uint64VarP(&deviceLimit, "device-limit", "D", 64<<20, "secondary tier budget in bytes")
	pflag.StringVarP(&policy, "policy", "p", "LRU", "eviction policy (LRU or MRU)")
	pflag.BoolVarP(&gz, "gzip", "z", false, "compress spill files")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")
	pflag.Parse()

	if verbose {
		refpool.SetLogger(hclog.New(&hclog.LoggerOptions{
			Name:  "refpool",
			Level: hclog.Debug,
		}))
	}

	cfg := refpool.Config{
		MemLimit:    memLimit,
		DeviceLimit: deviceLimit,
		Policy:      policy,
		Dir:         dir,
		Gzip:        gz,
	}

	if configPath != "" {
		loaded, err := refpool.LoadConfig(configPath)
		if err != nil {
			return err
		}

		cfg = loaded
	} else if cfg.Dir == "" {
		tmp, err := os.MkdirTemp("", "refpoolctl-*")
		if err != nil {
			return fmt.Errorf("creating spill directory: %w", err)
		}

		defer func() { _ = os.RemoveAll(tmp) }()

		cfg.Dir = tmp
	}

	alloc, err := cfg.Build()
	if err != nil {
		return err
	}

	repl := &REPL{
		pool:  refpool.NewPool(alloc),
		alloc: alloc,
		cfg:   cfg,
	}

	return repl.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	pool  *refpool.Pool
	alloc *refpool.SimpleRecencyAllocator
	cfg   refpool.Config
	liner *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".refpoolctl_history")
}

var replCommands = []string{
	"put", "get", "drop", "touch", "retain", "stats", "info", "help", "exit", "quit",
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(func(line string) []string {
		var out []string

		for _, c := range replCommands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c+" ")
			}
		}

		return out
	})

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("refpoolctl (mem_limit=%d, device_limit=%d, policy=%s, dir=%s)\n",
		r.cfg.MemLimit, r.cfg.DeviceLimit, r.cfg.Policy, r.cfg.Dir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("refpool> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "put":
			r.cmdPut(strings.TrimSpace(strings.TrimPrefix(line, parts[0])))

		case "get":
			r.cmdGet(args)

		case "drop", "del":
			r.cmdDrop(args)

		case "touch":
			r.cmdTouch(args)

		case "retain":
			r.cmdRetain(args)

		case "stats":
			r.cmdStats()

		case "info":
			r.cmdInfo()

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path) //nolint:gosec // path is under the user's home
	if err != nil {
		return
	}

	defer func() { _ = f.Close() }()

	_, _ = r.liner.WriteHistory(f)
}

func (r *REPL) cmdPut(text string) {
	if text == "" {
		fmt.Println("usage: put <text>")

		return
	}

	id, err := r.pool.Put(text, uint64(len(text)))
	if err != nil {
		fmt.Printf("put failed: %v\n", err)

		return
	}

	fmt.Printf("ref %d (%d bytes)\n", id, len(text))
}

func (r *REPL) cmdGet(args []string) {
	id, ok := parseID(args)
	if !ok {
		fmt.Println("usage: get <id>")

		return
	}

	value, err := r.pool.Get(id)
	if err != nil {
		fmt.Printf("get failed: %v\n", err)

		return
	}

	fmt.Printf("%v\n", value)
}

func (r *REPL) cmdDrop(args []string) {
	id, ok := parseID(args)
	if !ok {
		fmt.Println("usage: drop <id>")

		return
	}

	if err := r.pool.Drop(id); err != nil {
		fmt.Printf("drop failed: %v\n", err)

		return
	}

	fmt.Println("dropped")
}

func (r *REPL) cmdTouch(args []string) {
	id, ok := parseID(args)
	if !ok {
		fmt.Println("usage: touch <id>")

		return
	}

	if err := r.pool.Touch(id); err != nil {
		fmt.Printf("touch failed: %v\n", err)

		return
	}

	fmt.Println("touched")
}

func (r *REPL) cmdRetain(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Println("usage: retain on|off")

		return
	}

	// The allocator's retain cell is global; ref arguments are unused.
	if err := r.alloc.Retain(nil, 0, args[0] == "on", false); err != nil {
		fmt.Printf("retain failed: %v\n", err)

		return
	}

	fmt.Printf("retain %s\n", args[0])
}

func (r *REPL) cmdStats() {
	stats := r.pool.Stats()
	fmt.Printf("hits=%d misses=%d evicts=%d refs=%d\n",
		stats.Hits, stats.Misses, stats.Evicts, r.pool.Len())
}

func (r *REPL) cmdInfo() {
	capacity, _ := r.alloc.Capacity()
	used, _ := r.alloc.Utilized()
	available, _ := r.alloc.Available()

	fmt.Printf("capacity:  %d bytes\n", capacity)
	fmt.Printf("utilized:  %d bytes\n", used)
	fmt.Printf("available: %d bytes\n", available)

	for _, res := range r.alloc.Resources() {
		tierCap, err := r.alloc.CapacityOn(res)
		if err != nil {
			continue
		}

		tierUsed, _ := r.alloc.UtilizedOn(res)
		fmt.Printf("  %T: capacity=%d utilized=%d\n", res, tierCap, tierUsed)
	}
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <text>        Store a value, print its ref id")
	fmt.Println("  get <id>          Retrieve a value")
	fmt.Println("  drop <id>         Drop a ref")
	fmt.Println("  touch <id>        Recency-bump a ref without materializing it")
	fmt.Println("  retain on|off     Toggle retain-on-drop")
	fmt.Println("  stats             Show hit/miss/evict counters")
	fmt.Println("  info              Show tier capacity and utilization")
	fmt.Println("  exit / quit / q   Exit")
}

func parseID(args []string) (refpool.RefID, bool) {
	if len(args) != 1 {
		return 0, false
	}

	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}

	return refpool.RefID(n), true
}
