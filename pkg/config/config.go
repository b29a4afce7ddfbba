// Package config implements the page cache's on-disk conf file and
// the Options surface accepted by Open.
package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"pagecache/internal/codec"
	"pagecache/pkg/errs"
)

const (
	magic          = "PGCACHE1"
	confVersion    = uint32(1)
	defaultSegSize = 8 << 20
)

// Options is what a caller passes to Open.
type Options struct {
	Path      string // directory; created if absent
	Temporary bool   // if true, directory is removed on Close

	SegmentSize                uint64 // bytes per segment
	PageConsolidationThreshold int    // chain length that triggers auto-rewrite
	SnapshotAfterOps           uint64 // ops between snapshots
	FlushEveryMS               uint64 // background fsync period

	FragmentCodec codec.ID
}

// WithDefaults returns a copy of o with zero fields set to their
// documented defaults (spec §6's configuration table).
func (o Options) WithDefaults() Options {
	if o.SegmentSize == 0 {
		o.SegmentSize = defaultSegSize
	}
	if o.PageConsolidationThreshold == 0 {
		o.PageConsolidationThreshold = 10
	}
	if o.SnapshotAfterOps == 0 {
		o.SnapshotAfterOps = 1_000_000
	}
	return o
}

// Config is the resolved, on-disk-backed configuration for an open
// store.
type Config struct {
	Options
	// tempDir is set when Options.Temporary created a generated
	// directory, so Close knows to remove it.
	tempDir bool
}

// relevant on-disk fields: changing these across a reopen is
// incompatible because they affect the meaning of bytes already
// written to the log.
type onDisk struct {
	segmentSize   uint64
	fragmentCodec codec.ID
}

func (o Options) onDisk() onDisk {
	return onDisk{segmentSize: o.SegmentSize, fragmentCodec: o.FragmentCodec}
}

// Open resolves directory creation (including temp-dir naming) and
// validates/writes the conf file, returning a Config ready for the
// page cache to build its log and snapshot directory paths from.
func Open(opts Options) (*Config, error) {
	opts = opts.WithDefaults()

	isTemp := opts.Temporary
	if isTemp {
		dir := opts.Path
		if dir == "" {
			dir = os.TempDir()
		}
		opts.Path = filepath.Join(dir, "pagecache-"+uuid.NewString())
	}
	if opts.Path == "" {
		return nil, errs.New(errs.Io, "config.Open", fmt.Errorf("Options.Path must be set unless Temporary"))
	}

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, errs.New(errs.Io, "config.Open", err)
	}

	confPath := filepath.Join(opts.Path, "conf")
	existing, err := readConf(confPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if existing != nil {
		if existing.onDisk() != opts.onDisk() {
			return nil, errs.New(errs.Unsupported, "config.Open",
				fmt.Errorf("on-disk conf (segment_size=%d codec=%s) incompatible with requested (segment_size=%d codec=%s)",
					existing.SegmentSize, existing.FragmentCodec, opts.SegmentSize, opts.FragmentCodec))
		}
		// Non-structural fields (consolidation threshold, snapshot
		// cadence, flush period) may be changed freely across opens.
		existing.PageConsolidationThreshold = opts.PageConsolidationThreshold
		existing.SnapshotAfterOps = opts.SnapshotAfterOps
		existing.FlushEveryMS = opts.FlushEveryMS
		existing.Path = opts.Path
		existing.Temporary = opts.Temporary
		return &Config{Options: *existing, tempDir: isTemp}, writeConf(confPath, *existing)
	}

	if err := writeConf(confPath, opts); err != nil {
		return nil, err
	}
	return &Config{Options: opts, tempDir: isTemp}, nil
}

// Close removes the directory if it was created as a temporary store.
func (c *Config) Close() error {
	if c.tempDir {
		return os.RemoveAll(c.Path)
	}
	return nil
}

// DBPath is the path to the segment-appended log file.
func (c *Config) DBPath() string { return filepath.Join(c.Path, "db") }

// SnapshotPath formats the completed-snapshot path for lsn.
func (c *Config) SnapshotPath(lsn uint64) string {
	return filepath.Join(c.Path, fmt.Sprintf("snap.%x", lsn))
}

// SnapshotInMotionPath formats the in-progress snapshot path for lsn.
func (c *Config) SnapshotInMotionPath(lsn uint64) string {
	return filepath.Join(c.Path, fmt.Sprintf("snap.%x.in___motion", lsn))
}

// conf file layout: magic(8) | version(u32) | segment_size(u64) |
// page_consolidation_threshold(u32) | snapshot_after_ops(u64) |
// flush_every_ms(u64) | fragment_codec(u8)
const confRecordSize = 8 + 4 + 8 + 4 + 8 + 8 + 1

func writeConf(path string, o Options) error {
	buf := make([]byte, confRecordSize)
	copy(buf[0:8], magic)
	binary.LittleEndian.PutUint32(buf[8:12], confVersion)
	binary.LittleEndian.PutUint64(buf[12:20], o.SegmentSize)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(o.PageConsolidationThreshold))
	binary.LittleEndian.PutUint64(buf[24:32], o.SnapshotAfterOps)
	binary.LittleEndian.PutUint64(buf[32:40], o.FlushEveryMS)
	buf[40] = byte(o.FragmentCodec)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.New(errs.Io, "config.writeConf", err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return errs.New(errs.Io, "config.writeConf", err)
	}
	if err := f.Sync(); err != nil {
		return errs.New(errs.Io, "config.writeConf", err)
	}
	return nil
}

func readConf(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < confRecordSize {
		return nil, errs.New(errs.Corruption, "config.readConf", fmt.Errorf("conf file too short"))
	}
	if string(data[0:8]) != magic {
		return nil, errs.New(errs.Unsupported, "config.readConf", fmt.Errorf("not a pagecache conf file"))
	}
	version := binary.LittleEndian.Uint32(data[8:12])
	if version != confVersion {
		return nil, errs.New(errs.Unsupported, "config.readConf", fmt.Errorf("conf version %d unsupported", version))
	}
	o := &Options{
		SegmentSize:                binary.LittleEndian.Uint64(data[12:20]),
		PageConsolidationThreshold: int(binary.LittleEndian.Uint32(data[20:24])),
		SnapshotAfterOps:           binary.LittleEndian.Uint64(data[24:32]),
		FlushEveryMS:               binary.LittleEndian.Uint64(data[32:40]),
		FragmentCodec:              codec.ID(data[40]),
	}
	return o, nil
}
