package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bankintake/internal/config"
	"bankintake/internal/logger"
)

// cli holds per-invocation state so commands can be built fresh in tests.
type cli struct {
	v   *viper.Viper
	out io.Writer
	log logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCmd(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}
	root := &cobra.Command{
		Use:   "intake",
		Short: "Bank application intake",
		Long: `intake receives account, loan, card and investment applications, assigns
reference numbers and walks each one from pending to approved or rejected.
Review commands run against the configured store, or against a running
server when --server is set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	c.initConfig()
	c.addPersistentFlags(root)
	c.registerCommands(root)
	return root
}

func (c *cli) initConfig() {
	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	c.v.AutomaticEnv()
}

func (c *cli) addPersistentFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringP("config", "c", config.FileName, "config file")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "", "actor recorded on submissions and decisions")
	pf.String("server", "", "API base URL, e.g. http://127.0.0.1:8080/api")
	pf.String("token", "", "bearer token for --server")
	pf.String("driver", "", "store driver: sqlite, postgres or mongo")
	pf.String("sqlite-path", "", "SQLite database file")
	pf.String("postgres-dsn", "", "PostgreSQL connection string")
	pf.String("mongo-uri", "", "MongoDB connection URI")
	pf.String("redis-addr", "", "Redis address for the lookup cache")
	bindFlags(c.v, pf, map[string]string{
		"config":             "config",
		"json":               "json",
		"actor-id":           "actor-id",
		"server":             "server",
		"token":              "token",
		"store.driver":       "driver",
		"store.sqlite_path":  "sqlite-path",
		"store.postgres_dsn": "postgres-dsn",
		"store.mongo_uri":    "mongo-uri",
		"cache.redis_addr":   "redis-addr",
	})
}

func (c *cli) registerCommands(root *cobra.Command) {
	root.AddCommand(c.serveCmd())
	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.configCmd())
	root.AddCommand(c.tokenCmd())
	root.AddCommand(c.applyCmd())
	root.AddCommand(c.listCmd())
	root.AddCommand(c.showCmd())
	root.AddCommand(c.decideCmd("approve"))
	root.AddCommand(c.decideCmd("reject"))
	root.AddCommand(c.eventsCmd())
	root.AddCommand(c.statsCmd())
	root.AddCommand(c.recentCmd())
	root.AddCommand(c.searchCmd())
}

// bindFlags maps viper keys to flag names so config keys can be overridden
// from the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// loadConfig reads the config file and INTAKE_* overrides; bound flags win.
func (c *cli) loadConfig() (*config.Config, error) {
	return config.LoadWith(c.v, c.v.GetString("config"))
}

func (c *cli) logger(cfg *config.Config) logger.Logger {
	if c.log == nil {
		c.log = logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	}
	return c.log
}
