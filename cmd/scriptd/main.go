package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/crystal-mush/mudscript/pkg/archive"
	"github.com/crystal-mush/mudscript/pkg/config"
	"github.com/crystal-mush/mudscript/pkg/console"
	"github.com/crystal-mush/mudscript/pkg/engine"
	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/metrics"
	"github.com/crystal-mush/mudscript/pkg/reports"
	"github.com/crystal-mush/mudscript/pkg/scriptstore"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/crystal-mush/mudscript/pkg/validate"
	"github.com/crystal-mush/mudscript/pkg/watch"
	"github.com/rodaine/table"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("MUDSCRIPT_CONF", ""), "Path to config file, .yaml or .toml (env: MUDSCRIPT_CONF)")
	scriptDir := flag.String("scripts", envDefault("MUDSCRIPT_SCRIPTS", ""), "Script directory, overrides config (env: MUDSCRIPT_SCRIPTS)")
	storePath := flag.String("store", envDefault("MUDSCRIPT_STORE", ""), "Path to bbolt script store, overrides config (env: MUDSCRIPT_STORE)")
	reportsPath := flag.String("reports", envDefault("MUDSCRIPT_REPORTS", ""), "Path to SQLite failure reports, overrides config (env: MUDSCRIPT_REPORTS)")
	addr := flag.String("addr", envDefault("MUDSCRIPT_ADDR", ""), "Console listen address, overrides config (env: MUDSCRIPT_ADDR)")
	secret := flag.String("secret", envDefault("MUDSCRIPT_SECRET", ""), "Console token secret (env: MUDSCRIPT_SECRET)")
	verbosity := flag.Int("v", 0, "Log verbosity, overrides config (env: MUDSCRIPT_VERBOSITY)")
	issueToken := flag.String("issue-token", "", "Print a console token for this author and exit")
	doArchive := flag.Bool("archive", false, "Archive the store, reports, scripts and config into archive_dir and exit")
	listArchives := flag.Bool("list-archives", false, "List the archives in archive_dir and exit")
	restore := flag.String("restore", "", "Restore an archive and exit (the daemon must be stopped)")
	check := flag.Bool("check", false, "Validate the stored and script directory scripts and exit")
	fix := flag.Bool("fix", false, "With -check, apply the fixes of misspelled events")
	flag.Parse()

	// Load config if specified, otherwise use defaults
	conf := config.Default()
	if *confFile != "" {
		var err error
		conf, err = config.Load(*confFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Command-line flags override config file values
	if *verbosity == 0 {
		if v, err := strconv.Atoi(os.Getenv("MUDSCRIPT_VERBOSITY")); err == nil {
			*verbosity = v
		}
	}
	if *verbosity != 0 {
		conf.LogVerbosity = *verbosity
	}
	for flagVal, field := range map[*string]*string{
		scriptDir:   &conf.ScriptDir,
		storePath:   &conf.StorePath,
		reportsPath: &conf.ReportsPath,
		addr:        &conf.ConsoleAddr,
		secret:      &conf.ConsoleSecret,
	} {
		if *flagVal != "" {
			*field = *flagVal
		}
	}

	commonlog.Configure(conf.LogVerbosity, nil)
	log := commonlog.GetLogger("mudscript")

	auth := console.NewAuthService(conf.ConsoleSecret, conf.TokenExpiry)
	if *issueToken != "" {
		if conf.ConsoleSecret == "" {
			fmt.Fprintln(os.Stderr, "A console secret is required to issue tokens (-secret or console_secret).")
			fmt.Fprintf(os.Stderr, "Here is a fresh one: %s\n", console.GenerateSecret())
			os.Exit(1)
		}
		tok, err := auth.Issue(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	if *listArchives {
		os.Exit(listArchiveDir(conf.ArchiveDir))
	}
	if *restore != "" {
		os.Exit(restoreArchive(*restore, conf, *confFile))
	}

	var opts []engine.Option

	var store *scriptstore.Store
	if conf.StorePath != "" {
		if err := os.MkdirAll(filepath.Dir(conf.StorePath), 0o755); err != nil {
			log.Criticalf("cannot create %s: %v", filepath.Dir(conf.StorePath), err)
			os.Exit(1)
		}
		var err error
		store, err = scriptstore.Open(conf.StorePath)
		if err != nil {
			log.Criticalf("%v", err)
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, engine.WithStore(store))
		log.Infof("script store: %s", conf.StorePath)
	}

	var rs *reports.Store
	if conf.ReportsPath != "" {
		if err := os.MkdirAll(filepath.Dir(conf.ReportsPath), 0o755); err != nil {
			log.Criticalf("cannot create %s: %v", filepath.Dir(conf.ReportsPath), err)
			os.Exit(1)
		}
		var err error
		rs, err = reports.Open(conf.ReportsPath, conf.ReportsTimeout)
		if err != nil {
			log.Criticalf("%v", err)
			os.Exit(1)
		}
		defer rs.Close()
		opts = append(opts, engine.WithReports(rs))
		log.Infof("failure reports: %s", conf.ReportsPath)
	}

	if *doArchive {
		if err := createArchive(conf, *confFile, store, rs); err != nil {
			log.Criticalf("%v", err)
			os.Exit(1)
		}
		return
	}

	// The scheduler does not exist yet: the queue is set once the engine
	// is built.
	var m *metrics.Metrics
	if conf.MetricsEnabled {
		m = metrics.New(nil, time.Now())
		opts = append(opts, engine.WithMetrics(m))
	}

	ns := script.NewNamespace(events.NewBus())
	e, err := engine.New(conf, ns, opts...)
	if err != nil {
		log.Criticalf("%v", err)
		os.Exit(1)
	}
	if m != nil {
		m.SetQueue(e.Sched)
	}

	if *check {
		if !checkScripts(e, conf, *fix) {
			os.Exit(1)
		}
		return
	}

	var records []*scriptstore.Record
	if conf.ScriptDir != "" {
		records, err = watch.LoadDir(conf.ScriptDir)
		if err != nil {
			log.Errorf("%v", err)
		}
	}
	loaded := e.LoadAll(records)
	log.Infof("%d scripts loaded, events: %v", loaded, e.Events.Names())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if conf.Watch && conf.ScriptDir != "" {
		w, err := watch.New(conf.ScriptDir, e)
		if err != nil {
			log.Warningf("%v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}
	}

	// Daily cleanup of old failure reports.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if n, err := e.PurgeReports(ctx); err != nil {
				log.Warningf("purging reports: %v", err)
			} else if n > 0 {
				log.Infof("purged %d old failure reports", n)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	if conf.ConsoleEnabled {
		srv := console.NewServer(e, auth, console.Config{Addr: conf.ConsoleAddr, MetricsEnabled: conf.MetricsEnabled})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(); err != nil {
				log.Errorf("console: %v", err)
				stop()
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(shutdownCtx)
		}()
	}

	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
	}
	wg.Wait()
	log.Infof("shut down")
}

// createArchive writes an archive of the daemon data, then prunes the
// oldest ones beyond archive_keep.
func createArchive(conf *config.Conf, confFile string, store *scriptstore.Store, rs *reports.Store) error {
	log := commonlog.GetLogger("mudscript.archive")
	params := archive.Params{
		ScriptDir: conf.ScriptDir,
		ConfPath:  confFile,
		Dir:       conf.ArchiveDir,
	}
	if store != nil {
		params.StoreSnapshot = store.Backup
		if recs, err := store.ListScripts(events.Nobody); err == nil {
			params.Scripts = len(recs)
		}
		if snaps, err := store.LoadSnapshots(); err == nil {
			params.Snapshots = len(snaps)
		}
	}
	if rs != nil {
		params.ReportsPath = rs.Path()
		params.ReportsCheckpoint = rs.Checkpoint
	}
	path, err := archive.CreateArchive(params)
	if err != nil {
		return err
	}
	log.Infof("archive written to %s (%d scripts, %d waiting executions)", path, params.Scripts, params.Snapshots)
	if conf.ArchiveKeep > 0 {
		if n, err := archive.Prune(conf.ArchiveDir, conf.ArchiveKeep); err != nil {
			log.Warningf("pruning archives: %v", err)
		} else if n > 0 {
			log.Infof("removed %d old archives", n)
		}
	}
	return nil
}

func listArchiveDir(dir string) int {
	list, err := archive.ListArchives(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(list) == 0 {
		fmt.Printf("No archives in %s\n", dir)
		return 0
	}
	tbl := table.New("Archive", "Created", "Size", "Scripts", "Waiting")
	for _, a := range list {
		tbl.AddRow(a.Filename, a.Timestamp, a.Size, a.Scripts, a.Snapshots)
	}
	tbl.Print()
	return 0
}

func restoreArchive(path string, conf *config.Conf, confFile string) int {
	res, err := archive.RestoreArchive(archive.RestoreParams{
		ArchivePath: path,
		StoreDest:   conf.StorePath,
		ReportsDest: conf.ReportsPath,
		ScriptDest:  conf.ScriptDir,
		ConfDest:    confFile,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Printf("Restored %d files from %s (%s)\n", res.FilesRestored, filepath.Base(path), res.Manifest.Timestamp)
	return 0
}

// checkScripts validates every script the daemon would load and prints
// the findings. It reports false when a script cannot run.
func checkScripts(e *engine.Engine, conf *config.Conf, fix bool) bool {
	var stored, files []*scriptstore.Record
	if e.Store != nil {
		var err error
		if stored, err = e.Store.ListScripts(events.Nobody); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return false
		}
	}
	if conf.ScriptDir != "" {
		var err error
		if files, err = watch.LoadDir(conf.ScriptDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return false
		}
	}
	fromDir := make(map[string]bool, len(files))
	for _, r := range files {
		fromDir[r.Name] = true
	}

	v := validate.New(&validate.Corpus{
		Records:  validate.Merge(stored, files),
		Events:   e.Events,
		Compiler: e.Compiler,
	})
	v.Run()
	if fix {
		for _, r := range v.ApplyAll(validate.CatEvent) {
			var err error
			if fromDir[r.Name] {
				err = watch.WriteFile(conf.ScriptDir, r)
			} else if e.Store != nil {
				err = e.Store.PutScript(r)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error saving %s: %v\n", r.Name, err)
			}
		}
	}

	report := validate.GenerateReport(v)
	if report.TotalFindings == 0 {
		fmt.Println("No problems found.")
		return true
	}
	report.WriteTable(os.Stdout)
	sum := v.Summary()
	fmt.Printf("\n%d errors, %d warnings, %d notes\n", sum[validate.SevError], sum[validate.SevWarning], sum[validate.SevInfo])
	// Fixed errors no longer block.
	for _, f := range v.Findings() {
		if f.Severity == validate.SevError && !f.Fixed {
			return false
		}
	}
	return true
}
