// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kiln-pm/kiln/internal/issue"
	"github.com/kiln-pm/kiln/pkg/cueutil"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "kiln"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. KILN_PREFER_MAKE=true.
	EnvPrefix = "KILN"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the kiln configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. It returns the resolved config file path ("" when
// only defaults and environment were used).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.For("load config", resolvedPath).
				Hint("check that the file is valid CUE and matches the #Config schema").
				Hint("move the file aside and run 'kiln config show' to see the defaults").
				WithIssue(issue.ConfigLoadFailedID).
				Wrap(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Features == nil {
		cfg.Features = map[string]bool{}
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, "", err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.For("validate config", resolvedPath).
			Hint("scope must be \"user\" or \"site\"; prereq_policy must be \"follow\" or \"ignore\"").
			Hint("check KILN_* environment variables for stale overrides").
			WithIssue(issue.ConfigLoadFailedID).
			Wrap(err)
	}

	return &cfg, resolvedPath, nil
}

// resolveConfigFile picks the config file to read: an explicit path must
// exist; otherwise the config directory and then the working directory are
// tried, and a missing file means defaults.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.For("load config", opts.ConfigFilePath).
				Hint("check the path given to --config").
				WithIssue(issue.ConfigLoadFailedID).
				Wrap(errors.New("file not found"))
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir := opts.ConfigDirPath
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		cfgDir = dir
	}

	name := ConfigFileName + "." + ConfigFileExt
	if p := filepath.Join(cfgDir, name); fileExists(p) {
		return p, nil
	}
	if fileExists(name) {
		return name, nil
	}
	return "", nil
}

// setDefaults registers every key with Viper. Registering a key is also what
// makes AutomaticEnv consider it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("prefix", d.Prefix)
	v.SetDefault("scope", string(d.Scope))
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("catalog", d.Catalog)
	v.SetDefault("mirrors", d.Mirrors)
	v.SetDefault("prefer_make", d.PreferMake)
	v.SetDefault("force", d.Force)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("skip_test", d.SkipTest)
	v.SetDefault("signature_required", d.SignatureRequired)
	v.SetDefault("checksum_required", d.ChecksumRequired)
	v.SetDefault("prereq_policy", string(d.PrereqPolicy))
	v.SetDefault("jobs", d.Jobs)
	v.SetDefault("features", d.Features)
	v.SetDefault("builders.make.binary", d.Builders.Make.Binary)
	v.SetDefault("builders.script.enabled", d.Builders.Script.Enabled)
	v.SetDefault("signature.gpg_binary", d.Signature.GPGBinary)
	v.SetDefault("signature.keyring", d.Signature.Keyring)
	v.SetDefault("git.enabled", d.Git.Enabled)
	v.SetDefault("report.enabled", d.Report.Enabled)
	v.SetDefault("report.url", d.Report.URL)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
}

// resolvePaths fills in home-relative defaults for empty path knobs.
func (c *Config) resolvePaths() error {
	if c.StateDir != "" && c.Prefix != "" && c.Catalog != "" {
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(home, "."+AppName)
	}
	if c.Prefix == "" {
		c.Prefix = filepath.Join(home, ".local")
	}
	if c.Catalog == "" {
		c.Catalog = filepath.Join(c.StateDir, "catalog.cue")
	}
	return nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// This does not use cueutil.ParseAndDecode because the config decodes to
// map[string]any for Viper, and fields are optional (non-concrete validation).
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// kiln configuration\n\n")
	fmt.Fprintf(&sb, "prefix:             %q\n", cfg.Prefix)
	fmt.Fprintf(&sb, "scope:              %q\n", cfg.Scope)
	fmt.Fprintf(&sb, "state_dir:          %q\n", cfg.StateDir)
	fmt.Fprintf(&sb, "catalog:            %q\n", cfg.Catalog)
	sb.WriteString("mirrors: [")
	for i, m := range cfg.Mirrors {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", m)
	}
	sb.WriteString("]\n")
	fmt.Fprintf(&sb, "prefer_make:        %t\n", cfg.PreferMake)
	fmt.Fprintf(&sb, "force:              %t\n", cfg.Force)
	fmt.Fprintf(&sb, "verbose:            %t\n", cfg.Verbose)
	fmt.Fprintf(&sb, "skip_test:          %t\n", cfg.SkipTest)
	fmt.Fprintf(&sb, "signature_required: %t\n", cfg.SignatureRequired)
	fmt.Fprintf(&sb, "checksum_required:  %t\n", cfg.ChecksumRequired)
	fmt.Fprintf(&sb, "prereq_policy:      %q\n", cfg.PrereqPolicy)
	fmt.Fprintf(&sb, "jobs:               %d\n", cfg.Jobs)

	if len(cfg.Features) > 0 {
		sb.WriteString("features: {\n")
		for _, name := range sortedKeys(cfg.Features) {
			fmt.Fprintf(&sb, "\t%q: %t\n", name, cfg.Features[name])
		}
		sb.WriteString("}\n")
	}

	sb.WriteString("builders: {\n")
	fmt.Fprintf(&sb, "\tmake: binary: %q\n", cfg.Builders.Make.Binary)
	fmt.Fprintf(&sb, "\tscript: enabled: %t\n", cfg.Builders.Script.Enabled)
	sb.WriteString("}\n")
	sb.WriteString("signature: {\n")
	fmt.Fprintf(&sb, "\tgpg_binary: %q\n", cfg.Signature.GPGBinary)
	fmt.Fprintf(&sb, "\tkeyring:    %q\n", cfg.Signature.Keyring)
	sb.WriteString("}\n")
	fmt.Fprintf(&sb, "git: enabled: %t\n", cfg.Git.Enabled)
	sb.WriteString("report: {\n")
	fmt.Fprintf(&sb, "\tenabled: %t\n", cfg.Report.Enabled)
	fmt.Fprintf(&sb, "\turl:     %q\n", cfg.Report.URL)
	sb.WriteString("}\n")
	sb.WriteString("http: {\n")
	fmt.Fprintf(&sb, "\ttimeout:    %q\n", cfg.HTTP.Timeout.String())
	fmt.Fprintf(&sb, "\tuser_agent: %q\n", cfg.HTTP.UserAgent)
	sb.WriteString("}\n")

	return sb.String()
}
