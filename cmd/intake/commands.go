package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bankintake/internal/app"
	"bankintake/internal/config"
	"bankintake/internal/domain"
	"bankintake/internal/engine/auth"
	"bankintake/internal/migrate"
	"bankintake/internal/repo"
	"bankintake/internal/server"
	intakesdk "bankintake/sdk/go"
)

func parseFamily(s string) (domain.Family, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f := domain.Family(s); f.Valid() {
		return f, nil
	}
	if f, ok := domain.FamilyFromPlural(s); ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown product family %q (want account, loan, card or investment)", s)
}

func (c *cli) serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			log := c.logger(cfg)
			a, err := app.Build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: cfg.Server.BasePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
				Metrics:  a.Metrics,
				Log:      log.WithFields(map[string]interface{}{"component": "http"}),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			if cfg.Server.JWTSecret == "" {
				log.Warn("server.jwt_secret is empty, staff operations are open", nil)
			}
			log.Info("serving intake API", map[string]interface{}{
				"addr":     cfg.Server.Addr,
				"basePath": cfg.Server.BasePath,
				"driver":   cfg.Store.Driver,
				"cache":    cfg.Cache.Enabled(),
			})
			fmt.Fprintf(c.out, "Serving intake API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations or create Mongo indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()
			result := map[string]any{"driver": cfg.Store.Driver}
			if s, ok := store.(*repo.SQL); ok {
				v, err := migrate.Version(s.DB)
				if err != nil {
					return err
				}
				result["schemaVersion"] = v
			}
			if c.v.GetBool("json") {
				return c.printJSON(result)
			}
			if v, ok := result["schemaVersion"]; ok {
				fmt.Fprintf(c.out, "%s store at schema version %d\n", cfg.Store.Driver, v)
				return nil
			}
			fmt.Fprintf(c.out, "%s indexes ensured\n", cfg.Store.Driver)
			return nil
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect or create intake.yml"}
	cmd.AddCommand(c.configInitCmd())
	cmd.AddCommand(c.configShowCmd())
	return cmd
}

func (c *cli) configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.v.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			text, err := config.GenerateDefault()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (c *cli) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "********"
			}
			if c.v.GetBool("json") {
				return c.printJSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = c.out.Write(data)
			return err
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token ACTOR",
		Short: "Sign a staff bearer token with server.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.Sign(cfg.Server.JWTSecret, args[0], roles, ttl, time.Now())
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(map[string]any{"token": token, "actorId": args[0], "roles": roles, "expiresIn": ttl.String()})
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleStaff}, "roles to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// readSubmission merges a JSON file (or - for stdin) with --set overrides.
func readSubmission(file string, sets []string) (map[string]any, error) {
	raw := map[string]any{}
	if file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--set expects key=value, got %q", kv)
		}
		raw[strings.TrimSpace(k)] = v
	}
	return raw, nil
}

func (c *cli) applyCmd() *cobra.Command {
	var file string
	var sets []string
	cmd := &cobra.Command{
		Use:   "apply FAMILY",
		Short: "Submit an application",
		Example: `  intake apply loan --file car-loan.json
  intake apply card --set applicationType=debit --set name="Asha Rao" --set accountNumber=123456789012 ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := parseFamily(args[0])
			if err != nil {
				return err
			}
			raw, err := readSubmission(file, sets)
			if err != nil {
				return err
			}
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				sub, err := b.Apply(ctx, family, raw)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(sub)
				}
				fmt.Fprintf(c.out, "%s\nreference: %s\nid: %s\n", sub.Message, sub.ReferenceNumber, sub.RecordID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON body file, - for stdin")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value, repeatable")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	var opts intakesdk.ListOptions
	cmd := &cobra.Command{
		Use:   "list FAMILY",
		Short: "List applications of a family, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := parseFamily(args[0])
			if err != nil {
				return err
			}
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				page, err := b.List(ctx, family, opts)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(page)
				}
				c.renderApplications(page.Data)
				fmt.Fprintf(c.out, "page %d, %d of %d\n", page.Page, page.Count, page.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "pending, approved or rejected")
	cmd.Flags().StringVar(&opts.ProductType, "type", "", "product type")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "reference number or applicant name substring")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "page size")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show FAMILY ID|REFERENCE",
		Short: "Show one application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := parseFamily(args[0])
			if err != nil {
				return err
			}
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				a, err := b.Get(ctx, family, args[1])
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(a)
				}
				c.renderApplication(a)
				return nil
			})
		},
	}
}

func (c *cli) decideCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " FAMILY ID|REFERENCE",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a pending application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := parseFamily(args[0])
			if err != nil {
				return err
			}
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				var a domain.Application
				if action == "approve" {
					a, err = b.Approve(ctx, family, args[1])
				} else {
					a, err = b.Reject(ctx, family, args[1])
				}
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(a)
				}
				fmt.Fprintf(c.out, "%s %s by %s\n", a.ReferenceNumber, a.Status, a.DecidedBy)
				return nil
			})
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events FAMILY ID|REFERENCE",
		Short: "Show the audit trail of an application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := parseFamily(args[0])
			if err != nil {
				return err
			}
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				evts, err := b.Events(ctx, family, args[1])
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(evts)
				}
				c.renderEvents(evts)
				return nil
			})
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count applications per family and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				stats, err := b.Stats(ctx)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(stats)
				}
				c.renderStats(stats)
				return nil
			})
		},
	}
}

func (c *cli) recentCmd() *cobra.Command {
	var limit int
	var status string
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Newest applications across every family",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				items, err := b.Recent(ctx, limit, status)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(items)
				}
				c.renderApplications(items)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of applications (default admin.recent_limit)")
	cmd.Flags().StringVar(&status, "status", "", "only this status")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search every family by reference number or applicant name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				items, err := b.Search(ctx, args[0])
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(items)
				}
				c.renderApplications(items)
				return nil
			})
		},
	}
}
