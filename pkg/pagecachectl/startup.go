package pagecachectl

import (
	"os"

	"sigs.k8s.io/yaml"

	"pagecache/internal/codec"
	"pagecache/pkg/config"
)

// startupFile is the shape of an optional YAML config passed to
// pagecachectl on the command line. Any field left unset keeps
// config.Options.WithDefaults()'s default.
type startupFile struct {
	SegmentSize                uint64 `json:"segmentSize"`
	PageConsolidationThreshold int    `json:"pageConsolidationThreshold"`
	SnapshotAfterOps           uint64 `json:"snapshotAfterOps"`
	FlushEveryMS               uint64 `json:"flushEveryMs"`
	FragmentCodec              string `json:"fragmentCodec"`
}

// LoadStartupOptions reads a YAML startup file (if path is non-empty)
// and overlays it onto config.Options{Path: dbPath}. An empty path is
// not an error: pagecachectl runs with every default in that case.
func LoadStartupOptions(dbPath, yamlPath string) (config.Options, error) {
	opts := config.Options{Path: dbPath}
	if yamlPath == "" {
		return opts, nil
	}

	raw, err := os.ReadFile(yamlPath)
	if err != nil {
		return opts, err
	}
	var sf startupFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return opts, err
	}

	opts.SegmentSize = sf.SegmentSize
	opts.PageConsolidationThreshold = sf.PageConsolidationThreshold
	opts.SnapshotAfterOps = sf.SnapshotAfterOps
	opts.FlushEveryMS = sf.FlushEveryMS
	if sf.FragmentCodec != "" {
		id, err := codec.ParseID(sf.FragmentCodec)
		if err != nil {
			return opts, err
		}
		opts.FragmentCodec = id
	}
	return opts, nil
}
