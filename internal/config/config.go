package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything a run needs besides its RunParams.
type Config struct {
	Tools  Tools  `yaml:"tools"`
	Search Search `yaml:"search"`
	Merge  Merge  `yaml:"merge"`
}

// Tools names the external executables. Cluster is a full argv prefix,
// e.g. ["python3", "cluster_result_file.py"].
type Tools struct {
	MakeBlastDB string   `yaml:"makeblastdb"`
	BlastP      string   `yaml:"blastp"`
	Cluster     []string `yaml:"cluster"`
}

// Search is passed through to blastp unchanged.
type Search struct {
	Matrix    string `yaml:"matrix"`
	GapOpen   int    `yaml:"gap_open"`
	GapExtend int    `yaml:"gap_extend"`
	Threshold int    `yaml:"threshold"`
	WordSize  int    `yaml:"word_size"`
	EValue    string `yaml:"evalue"`
	// Threads <= 0 means "use the worker count".
	Threads int `yaml:"threads"`
}

// Merge selects the key index used for collision detection: "memory" or "badger".
type Merge struct {
	Index string `yaml:"index"`
}

const (
	IndexMemory = "memory"
	IndexBadger = "badger"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Default returns the parameters the pipeline has always been run with.
func Default() Config {
	return Config{
		Tools: Tools{
			MakeBlastDB: "makeblastdb",
			BlastP:      "blastp",
			Cluster:     []string{"python3", "cluster_result_file.py"},
		},
		Search: Search{
			Matrix:    "BLOSUM62",
			GapOpen:   3,
			GapExtend: 11,
			Threshold: 400,
			WordSize:  7,
			EValue:    "1e-10",
		},
		Merge: Merge{Index: IndexMemory},
	}
}

// Load reads a YAML file over the defaults, then applies TEXTBLAST_* env overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TEXTBLAST_MAKEBLASTDB"); v != "" {
		c.Tools.MakeBlastDB = v
	}
	if v := os.Getenv("TEXTBLAST_BLASTP"); v != "" {
		c.Tools.BlastP = v
	}
	if v := os.Getenv("TEXTBLAST_CLUSTER"); v != "" {
		c.Tools.Cluster = strings.Fields(v)
	}
	if v := os.Getenv("TEXTBLAST_MERGE_INDEX"); v != "" {
		c.Merge.Index = v
	}
	if v := os.Getenv("TEXTBLAST_SEARCH_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.Threads = n
		}
	}
}

// IsZero reports whether c was never filled in.
func (c Config) IsZero() bool {
	return c.Tools.MakeBlastDB == "" && c.Tools.BlastP == "" && len(c.Tools.Cluster) == 0 &&
		c.Search == (Search{}) && c.Merge == (Merge{})
}

// Validate rejects configurations that would only fail later inside a tool.
func (c Config) Validate() error {
	var problems []string
	if c.Tools.MakeBlastDB == "" {
		problems = append(problems, "tools.makeblastdb is empty")
	}
	if c.Tools.BlastP == "" {
		problems = append(problems, "tools.blastp is empty")
	}
	if len(c.Tools.Cluster) == 0 {
		problems = append(problems, "tools.cluster is empty")
	}
	if c.Search.Matrix == "" {
		problems = append(problems, "search.matrix is empty")
	}
	if c.Search.WordSize <= 0 {
		problems = append(problems, "search.word_size must be positive")
	}
	if _, err := strconv.ParseFloat(c.Search.EValue, 64); err != nil {
		problems = append(problems, fmt.Sprintf("search.evalue %q is not a number", c.Search.EValue))
	}
	switch c.Merge.Index {
	case IndexMemory, IndexBadger:
	default:
		problems = append(problems, fmt.Sprintf("merge.index %q is not memory or badger", c.Merge.Index))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ThreadsFor resolves the blastp thread count against the worker count.
func (s Search) ThreadsFor(workers int) int {
	if s.Threads > 0 {
		return s.Threads
	}
	if workers > 0 {
		return workers
	}
	return 1
}

// Getenv returns the env value for k, or def when unset or empty.
func Getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// GetenvInt is Getenv for integers; unparsable values fall back to def.
func GetenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
