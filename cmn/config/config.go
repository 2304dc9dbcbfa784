// Package config builds the runtime's immutable AppConfig from three
// sources, applied in override order (§6): a struct literal, an
// optional TOML or YAML file, and CLI flags.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// AppConfig is the read-only view returned by theConfig() (see
// runtime.Config). Field groups mirror §6 exactly.
type AppConfig struct {
	// Output / signals
	Color          bool `toml:"vt_color" yaml:"vt_color"`
	Quiet          bool `toml:"vt_quiet" yaml:"vt_quiet"`
	NoSigint       bool `toml:"vt_no_sigint" yaml:"vt_no_sigint"`
	NoSigsegv      bool `toml:"vt_no_sigsegv" yaml:"vt_no_sigsegv"`
	NoSigbus       bool `toml:"vt_no_sigbus" yaml:"vt_no_sigbus"`
	NoSigterminate bool `toml:"vt_no_terminate" yaml:"vt_no_terminate"`

	// Tracing
	Trace             bool   `toml:"vt_trace" yaml:"vt_trace"`
	TraceMPI          bool   `toml:"vt_trace_mpi" yaml:"vt_trace_mpi"`
	TraceDir          string `toml:"vt_trace_dir" yaml:"vt_trace_dir"`
	TraceFile         string `toml:"vt_trace_file" yaml:"vt_trace_file"`
	TraceFlushSize    int    `toml:"vt_trace_flush_size" yaml:"vt_trace_flush_size"`
	TraceMemoryUsage  bool   `toml:"vt_trace_memory_usage" yaml:"vt_trace_memory_usage"`

	// Debug print
	DebugLevel string `toml:"vt_debug_level" yaml:"vt_debug_level"` // terse|normal|verbose
	DebugTerm  bool   `toml:"vt_debug_term" yaml:"vt_debug_term"`
	DebugPool  bool   `toml:"vt_debug_pool" yaml:"vt_debug_pool"`

	// Load balancing
	LB             bool   `toml:"vt_lb" yaml:"vt_lb"`
	LBName         string `toml:"vt_lb_name" yaml:"vt_lb_name"`
	LBData         bool   `toml:"vt_lb_data" yaml:"vt_lb_data"`
	LBDataIn       bool   `toml:"vt_lb_data_in" yaml:"vt_lb_data_in"`
	LBDataDir      string `toml:"vt_lb_data_dir" yaml:"vt_lb_data_dir"`
	LBDataFile     string `toml:"vt_lb_data_file" yaml:"vt_lb_data_file"` // template, %p -> rank
	LBInterval     int    `toml:"vt_lb_interval" yaml:"vt_lb_interval"`
	LBDataRetention int   `toml:"vt_lb_data_retention" yaml:"vt_lb_data_retention"`
	LBStatistics   bool   `toml:"vt_lb_statistics" yaml:"vt_lb_statistics"`
	LBSelfMigration bool  `toml:"vt_lb_self_migration" yaml:"vt_lb_self_migration"`

	// Termination
	NoDetectHang      bool          `toml:"vt_no_detect_hang" yaml:"vt_no_detect_hang"`
	HangFreq          int           `toml:"vt_hang_freq" yaml:"vt_hang_freq"`
	EpochGraphOnHang  bool          `toml:"vt_epoch_graph_on_hang" yaml:"vt_epoch_graph_on_hang"`
	EpochGraphTerse   bool          `toml:"vt_epoch_graph_terse" yaml:"vt_epoch_graph_terse"`
	TermRootedUseDS   bool          `toml:"vt_term_rooted_use_ds" yaml:"vt_term_rooted_use_ds"`
	TermRootedUseWave bool          `toml:"vt_term_rooted_use_wave" yaml:"vt_term_rooted_use_wave"`
	_                 time.Duration // reserved

	// Diagnostics
	DiagEnable        bool   `toml:"vt_diag_enable" yaml:"vt_diag_enable"`
	DiagPrintSummary  bool   `toml:"vt_diag_print_summary" yaml:"vt_diag_print_summary"`
	DiagSummaryFile   string `toml:"vt_diag_summary_file" yaml:"vt_diag_summary_file"`
	DiagSummaryCSVFile string `toml:"vt_diag_summary_csv_file" yaml:"vt_diag_summary_csv_file"`

	// Memory
	PrintMemoryEachPhase   bool `toml:"vt_print_memory_each_phase" yaml:"vt_print_memory_each_phase"`
	PrintMemoryNode        int  `toml:"vt_print_memory_node" yaml:"vt_print_memory_node"`
	PrintMemoryThreshold   int  `toml:"vt_print_memory_threshold" yaml:"vt_print_memory_threshold"`
	PrintMemorySchedPoll   bool `toml:"vt_print_memory_sched_poll" yaml:"vt_print_memory_sched_poll"`

	// Scheduler
	SchedNumProgress int `toml:"vt_sched_num_progress" yaml:"vt_sched_num_progress"`
	SchedProgressHan int `toml:"vt_sched_progress_han" yaml:"vt_sched_progress_han"`
	SchedProgressSec int `toml:"vt_sched_progress_sec" yaml:"vt_sched_progress_sec"` // milliseconds

	// Runtime
	MaxMPISendSize int64  `toml:"vt_max_mpi_send_size" yaml:"vt_max_mpi_send_size"`
	NoAssertFail   bool   `toml:"vt_no_assert_fail" yaml:"vt_no_assert_fail"`
	ThrowOnAbort   bool   `toml:"vt_throw_on_abort" yaml:"vt_throw_on_abort"`
	Pause          bool   `toml:"vt_pause" yaml:"vt_pause"`
	User1          bool   `toml:"vt_user_1" yaml:"vt_user_1"`
	User2          bool   `toml:"vt_user_2" yaml:"vt_user_2"`
	User3          bool   `toml:"vt_user_3" yaml:"vt_user_3"`
	UserInt1       int64  `toml:"vt_user_int_1" yaml:"vt_user_int_1"`
	UserInt2       int64  `toml:"vt_user_int_2" yaml:"vt_user_int_2"`
	UserInt3       int64  `toml:"vt_user_int_3" yaml:"vt_user_int_3"`
	UserStr1       string `toml:"vt_user_str_1" yaml:"vt_user_str_1"`
	UserStr2       string `toml:"vt_user_str_2" yaml:"vt_user_str_2"`
	UserStr3       string `toml:"vt_user_str_3" yaml:"vt_user_str_3"`

	InputConfig     string `toml:"-" yaml:"-"`
	InputConfigYAML string `toml:"-" yaml:"-"`
}

// Default returns the hard-coded defaults (source (i) of §6).
func Default() AppConfig {
	return AppConfig{
		DebugLevel:       "normal",
		HangFreq:         1024,
		SchedNumProgress: 2,
		SchedProgressHan: 32,
		SchedProgressSec: 0,
		MaxMPISendSize:   1 << 30,
		LBDataDir:        ".",
		LBDataFile:       "lb_data.%p.json",
		LBDataRetention:  4,
		DiagSummaryFile:  "vt_diag_summary.txt",
	}
}

// Load assembles an AppConfig following the override order from §6:
// hard-coded defaults, then an optional TOML/YAML file, then argv
// flags. argv itself is not modified: recognized --vt_* flags are
// consumed, and every other argument (unrecognized flags, then
// positionals) is returned as rest for the caller (mirrors
// initialize(argc, argv, ...)).
func Load(argv []string, base AppConfig) (cfg AppConfig, rest []string, err error) {
	cfg = base

	fs := pflag.NewFlagSet("vt", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	help := fs.Bool("vt_help", false, "print the full vt_* option list and exit")

	fs.StringVar(&cfg.InputConfig, "vt_input_config", cfg.InputConfig, "TOML config file path")
	fs.StringVar(&cfg.InputConfigYAML, "vt_input_config_yaml", cfg.InputConfigYAML, "YAML config file path")
	fs.BoolVar(&cfg.Color, "vt_color", cfg.Color, "")
	fs.BoolVar(&cfg.Quiet, "vt_quiet", cfg.Quiet, "")
	fs.BoolVar(&cfg.Trace, "vt_trace", cfg.Trace, "")
	fs.StringVar(&cfg.DebugLevel, "vt_debug_level", cfg.DebugLevel, "terse|normal|verbose")
	fs.BoolVar(&cfg.LB, "vt_lb", cfg.LB, "")
	fs.StringVar(&cfg.LBName, "vt_lb_name", cfg.LBName, "")
	fs.BoolVar(&cfg.LBData, "vt_lb_data", cfg.LBData, "")
	fs.StringVar(&cfg.LBDataDir, "vt_lb_data_dir", cfg.LBDataDir, "")
	fs.StringVar(&cfg.LBDataFile, "vt_lb_data_file", cfg.LBDataFile, "")
	fs.BoolVar(&cfg.NoDetectHang, "vt_no_detect_hang", cfg.NoDetectHang, "")
	fs.IntVar(&cfg.HangFreq, "vt_hang_freq", cfg.HangFreq, "")
	fs.BoolVar(&cfg.EpochGraphOnHang, "vt_epoch_graph_on_hang", cfg.EpochGraphOnHang, "")
	fs.BoolVar(&cfg.DiagEnable, "vt_diag_enable", cfg.DiagEnable, "")
	fs.BoolVar(&cfg.DiagPrintSummary, "vt_diag_print_summary", cfg.DiagPrintSummary, "")
	fs.StringVar(&cfg.DiagSummaryFile, "vt_diag_summary_file", cfg.DiagSummaryFile, "")
	fs.StringVar(&cfg.DiagSummaryCSVFile, "vt_diag_summary_csv_file", cfg.DiagSummaryCSVFile, "")
	fs.IntVar(&cfg.SchedNumProgress, "vt_sched_num_progress", cfg.SchedNumProgress, "")
	fs.IntVar(&cfg.SchedProgressHan, "vt_sched_progress_han", cfg.SchedProgressHan, "")
	fs.IntVar(&cfg.SchedProgressSec, "vt_sched_progress_sec", cfg.SchedProgressSec, "")
	fs.Int64Var(&cfg.MaxMPISendSize, "vt_max_mpi_send_size", cfg.MaxMPISendSize, "")
	fs.BoolVar(&cfg.NoAssertFail, "vt_no_assert_fail", cfg.NoAssertFail, "")
	fs.BoolVar(&cfg.ThrowOnAbort, "vt_throw_on_abort", cfg.ThrowOnAbort, "")
	fs.BoolVar(&cfg.Pause, "vt_pause", cfg.Pause, "")

	// Pass 1: just enough parsing to discover --vt_input_config[_yaml]
	// before flags override the file (flags must win per §6's order).
	pre := pflag.NewFlagSet("vt-pre", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	preInput := pre.String("vt_input_config", "", "")
	preInputYAML := pre.String("vt_input_config_yaml", "", "")
	_ = pre.Parse(argv)

	if *preInput != "" {
		if err = loadTOML(*preInput, &cfg); err != nil {
			return cfg, nil, err
		}
	}
	if *preInputYAML != "" {
		if err = loadYAML(*preInputYAML, &cfg); err != nil {
			return cfg, nil, err
		}
	}

	if err = fs.Parse(argv); err != nil {
		return cfg, nil, err
	}
	if *help {
		os.Stdout.WriteString(fs.FlagUsages())
		os.Exit(0)
	}

	// pflag drops whitelisted unknown flags rather than keeping them in
	// Args(), so collect them from argv to hand back with the positionals.
	var unknown []string
	for _, a := range argv {
		if a == "--" {
			break
		}
		name, _, _ := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if strings.HasPrefix(a, "-") && name != "" && fs.Lookup(name) == nil {
			unknown = append(unknown, a)
		}
	}
	return cfg, append(unknown, fs.Args()...), nil
}

func loadTOML(path string, cfg *AppConfig) error {
	_, err := toml.DecodeFile(path, cfg)
	return err
}

func loadYAML(path string, cfg *AppConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}
