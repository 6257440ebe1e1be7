package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/igolaizola/trackgen"
	"github.com/igolaizola/trackgen/pkg/cmd/generate"
	"github.com/igolaizola/trackgen/pkg/cmd/migrate"
	"github.com/igolaizola/trackgen/pkg/cmd/web"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/peterbourgon/ff/v3/ffyaml"
	"go.uber.org/zap"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("trackgen", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "trackgen [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newServeCommand(),
			newGenerateCommand(),
			newMigrateCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "trackgen version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix("TRACKGEN"),
	}
}

// appFlags registers the flags shared by the commands that run generations.
func appFlags(fs *flag.FlagSet, cfg *trackgen.Config, logCfg *logger.Config) {
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.BoolVar(&cfg.Production, "production", false, "production mode, redacts credentials from error messages")

	fs.StringVar(&cfg.SunoURL, "suno-url", "http://localhost:3000", "music provider base url")
	fs.StringVar(&cfg.SunoKey, "suno-key", "", "music provider api key")
	fs.DurationVar(&cfg.MusicTimeout, "music-timeout", 3*time.Minute, "music provider timeout")

	fs.BoolVar(&cfg.Lyrics, "lyrics", false, "generate timestamped lyrics before the music")
	fs.StringVar(&cfg.OpenAIKey, "openai-key", "", "openai api key")
	fs.StringVar(&cfg.OpenAIURL, "openai-url", "", "openai base url (optional)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", "", "openai model (optional)")
	fs.DurationVar(&cfg.LyricsTimeout, "lyrics-timeout", 30*time.Second, "lyrics provider timeout")

	fs.DurationVar(&cfg.ProviderWait, "provider-wait", 0, "minimum time between provider requests")
	fs.DurationVar(&cfg.CompletionDelay, "completion-delay", 0, "delay before marking a generation as completed")

	fs.StringVar(&logCfg.Level, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&logCfg.OutputPath, "log-file", "", "log file, rotated (optional)")
}

func dbFlags(fs *flag.FlagSet, cfg *trackgen.Config) {
	fs.StringVar(&cfg.DBType, "db-type", "memory", "db type (memory, sqlite, mysql, postgres, redis)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres, url for redis")
	fs.DurationVar(&cfg.TaskTTL, "task-ttl", 0, "time to keep finished tasks (0 means forever)")
	fs.StringVar(&cfg.Instance, "instance", "", "instance name, use a distinct one per process sharing a database")
}

func newLogger(cfg *logger.Config, debug bool) (*zap.Logger, error) {
	cfg.Debug = debug
	return logger.New(cfg)
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &web.Config{}
	logCfg := &logger.Config{}
	appFlags(fs, &cfg.Config, logCfg)
	dbFlags(fs, &cfg.Config)

	fs.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on")
	fsListVar(fs, &cfg.CORSOrigins, "cors-origins", "allowed cors origins (comma separated, default all)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time to wait for running generations on exit")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("trackgen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("trackgen %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			log, err := newLogger(logCfg, cfg.Debug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			cfg.Logger = log
			return web.Serve(ctx, cfg)
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &generate.Config{}
	logCfg := &logger.Config{}
	appFlags(fs, &cfg.Config, logCfg)

	fs.StringVar(&cfg.Description, "description", "", "description of the track")
	fs.StringVar(&cfg.Genre, "genre", "", "genre of the track")
	fsListVar(fs, &cfg.Subgenres, "subgenres", "subgenres of the track (comma separated)")
	fs.DurationVar(&cfg.Poll, "poll", 2*time.Second, "interval between status checks")
	fs.StringVar(&cfg.Output, "output", "", "output json file (default stdout)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("trackgen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("trackgen %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			log, err := newLogger(logCfg, cfg.Debug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			cfg.Logger = log
			return generate.Run(ctx, cfg)
		},
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}
	logCfg := &logger.Config{}

	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&logCfg.Level, "log-level", "info", "log level (debug, info, warn, error)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("trackgen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("trackgen %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			log, err := newLogger(logCfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			cfg.Logger = log
			return migrate.Run(ctx, cfg)
		},
	}
}

type listValue struct {
	v *[]string
}

func (l *listValue) String() string {
	if l.v == nil {
		return ""
	}
	return strings.Join(*l.v, ",")
}

func (l *listValue) Set(value string) error {
	if l.v == nil {
		return errors.New("nil list reference")
	}
	var list []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		list = append(list, s)
	}
	*l.v = list
	return nil
}

func fsListVar(fs *flag.FlagSet, p *[]string, name string, usage string) {
	fs.Var(&listValue{p}, name, usage)
}
