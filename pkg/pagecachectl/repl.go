// Package pagecachectl is an interactive shell over a pagecache.Cache
// store: allocate/link/get/free pages directly, and drive pkg/block's
// TreeBlock chain on top of them. It replaces the teacher's SQL shell
// with commands scoped to the page cache's own operations.
package pagecachectl

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"pagecache/internal/epoch"
	"pagecache/pkg/block"
	"pagecache/pkg/config"
	"pagecache/pkg/materializer"
	"pagecache/pkg/pagecache"
)

// REPL drives a pagecache.Cache[materializer.Bytes] store plus a
// pkg/block.TreeBlock chain kept in a second store with its own tenant
// meta page.
type REPL struct {
	cache  *pagecache.Cache[materializer.Bytes]
	blocks *pagecache.Cache[block.Node]
	cfgs   []*config.Config

	shell  *shell
	output io.Writer

	guard *epoch.Guard

	// pageKeys tracks the last-observed Key for each pid this session has
	// touched, since link/replace/free all require the caller's prior
	// head.
	pageKeys  map[uint64]pagecache.Key[materializer.Bytes]
	openBlock *block.TreeBlock

	running       bool
	exitRequested bool
}

// New opens (or creates) a store at opts.Path plus a second, temporary
// store for pkg/block's TreeBlock chain, created under
// opts.Path+"-blocks" (or the system temp dir when opts.Path is empty)
// and removed on Close.
func New(opts config.Options, output, errOutput io.Writer) (*REPL, error) {
	cfg, err := config.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("config.Open: %w", err)
	}

	cache, err := pagecache.Open[materializer.Bytes](cfg, pagecache.BytesCodec{})
	if err != nil {
		return nil, fmt.Errorf("pagecache.Open: %w", err)
	}

	blockOpts := config.Options{Temporary: true}
	if opts.Path != "" {
		blockOpts.Path = opts.Path + "-blocks"
	}
	blockCfg, err := config.Open(blockOpts)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("config.Open (blocks): %w", err)
	}
	blocks, err := pagecache.Open[block.Node](blockCfg, block.NodeCodec{})
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("pagecache.Open (blocks): %w", err)
	}

	sh := newShell(os.Stdin, output, errOutput)

	r := &REPL{
		cache:    cache,
		blocks:   blocks,
		cfgs:     []*config.Config{cfg, blockCfg},
		shell:    sh,
		output:   output,
		pageKeys: make(map[uint64]pagecache.Key[materializer.Bytes]),
	}
	r.guard = r.cache.Pin()
	return r, nil
}

// Close drops the session's pin, closes both stores, and removes the
// directory of each store that was opened as temporary.
func (r *REPL) Close() error {
	if r.guard != nil {
		r.guard.Drop()
	}
	if err := r.blocks.Close(); err != nil {
		return err
	}
	if err := r.cache.Close(); err != nil {
		return err
	}
	for _, cfg := range r.cfgs {
		if err := cfg.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Run reads and executes one command per line until EOF or an exit or
// quit command.
func (r *REPL) Run() {
	r.running = true
	fmt.Fprintln(r.output, "pagecachectl — interactive page cache shell")
	fmt.Fprintln(r.output, `type "help" for available commands`)

	for r.running && !r.exitRequested {
		line, eof := r.shell.readLine()
		line = strings.TrimSpace(line)
		if line != "" {
			r.dispatch(line)
		}
		if eof {
			fmt.Fprintln(r.output)
			break
		}
	}
}

func (r *REPL) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	var err error
	switch cmd {
	case "help":
		r.printHelp()
	case "exit", "quit":
		r.exitRequested = true
	case "alloc":
		err = r.cmdAlloc(args)
	case "link":
		err = r.cmdLink(args)
	case "get":
		err = r.cmdGet(args)
	case "free":
		err = r.cmdFree(args)
	case "meta":
		err = r.cmdMeta(args)
	case "block-new":
		err = r.cmdBlockNew(args)
	case "block-put":
		err = r.cmdBlockPut(args)
	case "block-del":
		err = r.cmdBlockDel(args)
	case "block-get":
		err = r.cmdBlockGet(args)
	case "block-commit":
		err = r.cmdBlockCommit(args)
	case "stats":
		err = r.cmdStats(args)
	case "history":
		err = r.cmdHistory(args)
	default:
		err = fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
	if err != nil {
		fmt.Fprintf(r.output, "error: %v\n", err)
	}
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.output, `commands:
  alloc <text>              allocate a page with <text> as its anchor fragment
  link <pid> <text>         append <text> as a new fragment onto pid
  get <pid>                 print pid's materialized value
  free <pid>                free pid
  meta                      print the tenant meta page's block/bucket counts
  block-new [prevPid]       start a new TreeBlock, optionally chained onto prevPid
  block-put <key> <value>   stage key=value in the open block
  block-del <key>           stage a deletion of key in the open block
  block-get <key>           resolve key through the open block's committed chain
  block-commit              commit the open block and print its hash/pid
  stats                     print operation counters
  history                   print commands entered this session
  help                      this text
  exit                      leave the shell
`)
}

func (r *REPL) cmdAlloc(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: alloc <text>")
	}
	text := strings.Join(args, " ")
	pid, key, err := r.cache.Allocate(materializer.Bytes(text))
	if err != nil {
		return err
	}
	r.pageKeys[pid] = key
	fmt.Fprintf(r.output, "pid %d\n", pid)
	return nil
}

func (r *REPL) cmdLink(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: link <pid> <text>")
	}
	pid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad pid: %w", err)
	}
	key, ok := r.pageKeys[pid]
	if !ok {
		return fmt.Errorf("pid %d not known this session; get it first", pid)
	}
	text := strings.Join(args[1:], " ")
	next, err := r.cache.Link(r.guard, pid, key, materializer.Bytes(text))
	if err != nil {
		return err
	}
	r.pageKeys[pid] = next
	return nil
}

func (r *REPL) cmdGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: get <pid>")
	}
	pid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad pid: %w", err)
	}
	key, value, size, err := r.cache.Get(r.guard, pid)
	if err != nil {
		return err
	}
	r.pageKeys[pid] = key
	fmt.Fprintf(r.output, "%s (%d fragments)\n", string(value), size)
	return nil
}

func (r *REPL) cmdFree(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: free <pid>")
	}
	pid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad pid: %w", err)
	}
	key, ok := r.pageKeys[pid]
	if !ok {
		return fmt.Errorf("pid %d not known this session; get it first", pid)
	}
	if err := r.cache.Free(r.guard, pid, key); err != nil {
		return err
	}
	delete(r.pageKeys, pid)
	return nil
}

func (r *REPL) cmdMeta(args []string) error {
	m, _, err := r.cache.Meta(r.guard)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "blocks=%d buckets=%d\n", len(m.BlockTenants()), len(m.BucketTenants()))
	return nil
}

func (r *REPL) cmdBlockNew(args []string) error {
	var prev *uint64
	if len(args) > 0 {
		p, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad prev pid: %w", err)
		}
		prev = &p
	}
	blockGuard := r.blocks.Pin()
	defer blockGuard.Drop()
	tb, err := block.New(r.blocks, prev, blockGuard)
	if err != nil {
		return err
	}
	r.openBlock = tb
	fmt.Fprintf(r.output, "block pid %d\n", tb.Pid())
	return nil
}

func (r *REPL) requireOpenBlock() (*block.TreeBlock, error) {
	if r.openBlock == nil {
		return nil, fmt.Errorf("no open block; run block-new first")
	}
	return r.openBlock, nil
}

func (r *REPL) cmdBlockPut(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: block-put <key> <value>")
	}
	tb, err := r.requireOpenBlock()
	if err != nil {
		return err
	}
	_, err = tb.Insert(args[0], []byte(strings.Join(args[1:], " ")))
	return err
}

func (r *REPL) cmdBlockDel(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: block-del <key>")
	}
	tb, err := r.requireOpenBlock()
	if err != nil {
		return err
	}
	_, err = tb.Delete(args[0])
	return err
}

func (r *REPL) cmdBlockGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: block-get <key>")
	}
	tb, err := r.requireOpenBlock()
	if err != nil {
		return err
	}
	blockGuard := r.blocks.Pin()
	defer blockGuard.Drop()
	value, ok, err := tb.Get(blockGuard, args[0])
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(r.output, "(not found)")
		return nil
	}
	fmt.Fprintln(r.output, string(value))
	return nil
}

func (r *REPL) cmdBlockCommit(args []string) error {
	tb, err := r.requireOpenBlock()
	if err != nil {
		return err
	}
	blockGuard := r.blocks.Pin()
	defer blockGuard.Drop()
	hash, err := tb.Commit(blockGuard)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "pid=%d hash=%s\n", tb.Pid(), hex.EncodeToString(hash))
	return nil
}

func (r *REPL) cmdHistory(args []string) error {
	for i, cmd := range r.shell.History() {
		fmt.Fprintf(r.output, "%4d  %s\n", i+1, cmd)
	}
	return nil
}

func (r *REPL) cmdStats(args []string) error {
	s := r.cache.Metrics().Snapshot()
	fmt.Fprintf(r.output, "allocate=%d link=%d replace=%d free=%d cas_failed=%d snapshots=%d bytes_flushed=%d segments_reclaimed=%d\n",
		s.AllocateTotal, s.LinkTotal, s.ReplaceTotal, s.FreeTotal, s.CasFailedTotal, s.SnapshotsWritten, s.BytesFlushed, s.SegmentsReclaimed)
	return nil
}
