// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/kiln-pm/kiln/internal/builder"
	"github.com/kiln-pm/kiln/internal/catalog"
	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/extract"
	"github.com/kiln-pm/kiln/internal/fetch"
	"github.com/kiln-pm/kiln/internal/index"
	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/internal/metrics"
	"github.com/kiln-pm/kiln/internal/report"
	"github.com/kiln-pm/kiln/internal/selfupdate"
	"github.com/kiln-pm/kiln/internal/sign"
	"github.com/kiln-pm/kiln/pkg/version"

	"github.com/charmbracelet/log"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// App is the composition root of the CLI. Command handlers receive it and
	// reach every collaborator through it.
	App struct {
		Config ConfigProvider
		stdout io.Writer
		stderr io.Writer

		configPath string
		verbose    bool

		once sync.Once
		rt   *runtime
		err  error
	}

	// Dependencies are the injection points for NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config ConfigProvider
		Stdout io.Writer
		Stderr io.Writer
	}

	// runtime holds the collaborators built from one loaded configuration.
	runtime struct {
		cfg      *config.Config
		logger   *log.Logger
		catalog  *catalog.Catalog
		index    *index.Index
		metrics  *metrics.Recorder
		orch     *lifecycle.Orchestrator
		resolver *selfupdate.Resolver
	}
)

// NewApp builds an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config: deps.Config,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// runtime loads the configuration and wires the collaborators once per
// process.
func (a *App) runtime(ctx context.Context) (*runtime, error) {
	a.once.Do(func() {
		cfg, err := a.loadConfig(ctx)
		if err != nil {
			a.err = err
			return
		}
		if a.verbose {
			cfg.Verbose = true
		}
		a.rt, a.err = newRuntime(cfg, a.stderr)
	})
	return a.rt, a.err
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: "kiln"})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func newRuntime(cfg *config.Config, stderr io.Writer) (*runtime, error) {
	logger := newLogger(stderr, cfg.Verbose)

	cat, err := catalog.Load(cfg.Catalog,
		catalog.WithLogger(logger.WithPrefix("catalog")),
		catalog.WithMiss(catalog.DirMiss(filepath.Join(cfg.StateDir, "catalog.d"), logger)),
	)
	if err != nil {
		return nil, err
	}

	idx := index.Open(filepath.Join(cfg.StateDir, "installed"))
	rec := metrics.New()

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	fetchOpts := []fetch.Option{
		fetch.WithHTTPClient(httpClient),
		fetch.WithUserAgent(cfg.HTTP.UserAgent),
		fetch.WithLogger(logger.WithPrefix("fetch")),
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		fetchOpts = append(fetchOpts, fetch.WithGitHubToken(token))
	}
	if !cfg.Git.Enabled {
		fetchOpts = append(fetchOpts, fetch.WithoutGit())
	}
	fetcher := fetch.New(cfg.Mirrors, fetchOpts...)

	builders := map[lifecycle.InstallerKind]lifecycle.Builder{
		lifecycle.InstallerMake: builder.NewMake(cfg.Builders.Make.Binary),
	}
	if cfg.Builders.Script.Enabled {
		builders[lifecycle.InstallerScript] = builder.NewScript()
	}

	env := &lifecycle.Env{
		Config:    cfg,
		Catalog:   cat,
		Fetcher:   fetcher,
		Checksums: fetcher,
		Extractor: extract.New(extract.WithLogger(logger.WithPrefix("extract"))),
		Signatures: sign.New(
			sign.WithGPG(cfg.Signature.GPGBinary),
			sign.WithKeyring(cfg.Signature.Keyring),
			sign.WithLogger(logger.WithPrefix("sign")),
		),
		Builders: builders,
		Index:    idx,
		Observer: rec,
		Logger:   logger,
	}
	if cfg.Report.Enabled && cfg.Report.URL != "" {
		host, _ := os.Hostname()
		env.Reports = report.New(cfg.Report.URL,
			report.WithHTTPClient(httpClient),
			report.WithUserAgent(cfg.HTTP.UserAgent),
			report.WithSubmitter(host),
			report.WithLogger(logger),
		)
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		catalog:  cat,
		index:    idx,
		metrics:  rec,
		orch:     lifecycle.NewOrchestrator(env),
		resolver: selfupdate.NewResolver(selfupdate.DefaultTable(coreVersion()), cat, cfg, selfupdate.WithLogger(logger)),
	}, nil
}

// coreVersion is the running binary's version, or zero for dev builds.
func coreVersion() version.Version {
	v, err := version.Parse(Version)
	if err != nil {
		return version.Version{}
	}
	return v
}

// lookup resolves a catalog name or fails with an actionable error.
func (rt *runtime) lookup(name string) (*lifecycle.Artifact, error) {
	a, ok := rt.catalog.Lookup(name)
	if !ok {
		return nil, unknownArtifact(name)
	}
	return a, nil
}
