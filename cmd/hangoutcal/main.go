package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"hangoutcal/internal/busy"
	"hangoutcal/internal/config"
	"hangoutcal/internal/ics"
	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/metrics"
	"hangoutcal/internal/session"
	"hangoutcal/internal/web"
)

type flagConfig struct {
	configPath    string
	listen        string
	once          bool
	selectionPath string
	submit        bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := appLog.Configure(conf.Log.Level, conf.Log.Format); err != nil {
		appLog.Error("invalid log config", err)
	}
	defer appLog.Sync()

	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"granularity", conf.Granularity().String(),
		"durations_minutes", conf.DurationsMinutes,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()
	index := busy.NewIndex(loc, rec)
	calendar := ics.NewCalendar(ics.NewFetcher(conf.CacheDir, rec), icsSources(conf), loc)

	if flags.once {
		if flags.selectionPath == "" {
			appLog.Error("missing selection file", errors.New("-once requires -selection"))
			os.Exit(2)
		}
		var creator session.PollCreator
		if flags.submit {
			creator = newLogPollCreator(os.Stderr)
		}
		if err := runOnce(ctx, conf, index, calendar, flags.selectionPath, creator, os.Stdout); err != nil {
			appLog.Error("one-shot run failed", err, "selection", flags.selectionPath)
			os.Exit(1)
		}
		return
	}

	refresher := busy.NewRefresher(index, calendar, conf.HorizonDays)
	if err := refresher.Start(ctx, conf.RefreshCron); err != nil {
		appLog.Error("failed to start refresher", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	go reloadOnHangup(ctx, refresher)

	srv := web.NewServer(conf, index, rec, newLogPollCreator(os.Stderr))
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("http server stopped", err)
		os.Exit(1)
	}
	appLog.Info("hangoutcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/hangoutcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Compute ranges for -selection, print them as JSON and exit")
	flag.StringVar(&cfg.selectionPath, "selection", "", "YAML selection file used with -once")
	flag.BoolVar(&cfg.submit, "submit", false, "With -once, also submit the ranges to the poll log")

	flag.Parse()

	return cfg
}

func icsSources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		out = append(out, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	return out
}

// reloadOnHangup drops the busy cache and refetches every feed on SIGHUP.
func reloadOnHangup(ctx context.Context, refresher *busy.Refresher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			appLog.Info("SIGHUP received, reloading busy index")
			refresher.Reload(ctx)
		}
	}
}
