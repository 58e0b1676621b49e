// Package config defines the node's CLI and environment configuration
// surface (spec §6), parsed with github.com/alecthomas/kong.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

// Config is the fully resolved configuration for one node process.
type Config struct {
	First bool `kong:"help='Bootstrap a new section as its sole elder.'"`

	NetworkContactsFile string `kong:"name='network-contacts-file',help='Path to a pre-seeded section tree. Mutually exclusive with --first.',type='path'"`

	LocalAddr string `kong:"name='local-addr',help='Bind address; defaults to an OS-assigned port on all interfaces.',default=':0'"`

	QueryTimeout       time.Duration `kong:"name='query-timeout',help='Timeout for read-side network queries.',default='30s',env='SECTIOND_QUERY_TIMEOUT'"`
	CmdTimeout         time.Duration `kong:"name='cmd-timeout',help='Timeout for a single scheduled command.',default='10s',env='SECTIOND_CMD_TIMEOUT'"`
	MaxBackoffInterval time.Duration `kong:"name='max-backoff-interval',help='Ceiling for exponential retry backoff.',default='1m',env='SECTIOND_MAX_BACKOFF_INTERVAL'"`

	RootDir   string `kong:"name='root-dir',help='Storage directory for section_tree.dat and node.config.',required"`
	ClearData bool   `kong:"name='clear-data',help='Wipe root-dir at startup.'"`
}

// ErrConflictingBootstrap is returned when both --first and
// --network-contacts-file are set: the spec requires exactly one bootstrap
// mode (§6).
var ErrConflictingBootstrap = fmt.Errorf("config: --first and --network-contacts-file are mutually exclusive")

// ErrMissingBootstrap is returned when neither bootstrap mode is set.
var ErrMissingBootstrap = fmt.Errorf("config: one of --first or --network-contacts-file is required")

// Validate checks cross-field invariants kong's struct tags cannot express.
func (c Config) Validate() error {
	if c.First && c.NetworkContactsFile != "" {
		return ErrConflictingBootstrap
	}
	if !c.First && c.NetworkContactsFile == "" {
		return ErrMissingBootstrap
	}
	return nil
}

// Parse parses args (typically os.Args[1:]) into a validated Config.
func Parse(args []string) (Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg, kong.Name("sectiond"), kong.Description("Section overlay node."))
	if err != nil {
		return Config{}, fmt.Errorf("config: building parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parsing arguments: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseOSArgs parses os.Args[1:], exiting the process on a parse error the
// way kong.Kong.Parse's caller conventionally does.
func ParseOSArgs() Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}
