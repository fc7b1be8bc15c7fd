package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bidworks/internal/config"
	"bidworks/internal/db"
	"bidworks/internal/domain"
	"bidworks/internal/engine"
	"bidworks/internal/migrate"
	"bidworks/internal/repo"
	"bidworks/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bw",
	Short: "Bidworks CLI",
	Long: `Bidworks runs a job/bid marketplace core: seekers post jobs, providers
submit competing bids, and the job owner accepts exactly one bid, which
assigns the job and rejects the other pending bids atomically.

Workspace: the .bidworks directory holds the sqlite database; marketplace.yml
holds the category catalog and auth settings. Every mutating command acts as
the account given by --account-id (role comes from the accounts table).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BIDWORKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("account-id", "", "acting account id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("account-id", rootCmd.PersistentFlags().Lookup("account-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage marketplace.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default marketplace.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate marketplace.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
	return cmd
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts and API keys",
	}
	acc.AddCommand(accountCreateCmd())
	acc.AddCommand(accountListCmd())
	acc.AddCommand(accountKeyCmd())
	return acc
}

func accountCreateCmd() *cobra.Command {
	var id, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAccount(ctx, domain.Account{
					ID:          id,
					Role:        domain.Role(role),
					DisplayName: name,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&role, "role", "", "role (seeker, provider, admin)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func accountListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAccounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Name", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Role, a.DisplayName, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func accountKeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}
	key.AddCommand(accountKeyCreateCmd())
	key.AddCommand(accountKeyListCmd())
	return key
}

func accountKeyCreateCmd() *cobra.Command {
	var account, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetAccount(ctx, account); err != nil {
					return err
				}
				raw := "bw_" + strings.ReplaceAll(uuid.New().String(), "-", "")
				k := domain.APIKey{
					ID:        uuid.New().String(),
					AccountID: account,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": k.ID, "account_id": account, "key": raw})
				}
				// The raw key is shown once; only the hash is stored.
				fmt.Printf("API key for %s: %s\n", account, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func accountKeyListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, account)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "filter by account id")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
		Long:  "Jobs flow open -> assigned -> completed, or open -> cancelled. A job is assigned only by accepting one of its bids.",
	}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobCancelCmd())
	job.AddCommand(jobCompleteCmd())
	job.AddCommand(jobAssignCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var opts engine.JobCreateOptions
	var budget float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("budget") {
				opts.Budget = &budget
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				j, err := e.CreateJob(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "job id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.CategoryID, "category", "", "category id")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().StringVar(&opts.ImageURL, "image-url", "", "image URL")
	cmd.Flags().StringVar(&opts.SeekerID, "seeker-id", "", "post on behalf of this seeker (admin only)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.Status == "" && !all {
					f.Status = string(e.Config.DefaultListingStatus())
				}
				if all {
					f.Status = ""
				}
				items, err := e.Repo.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Location", "Status", "Bids", "Pending"})
				for _, j := range items {
					tw.AppendRow(table.Row{j.ID, j.Title, j.CategoryName, j.Location, j.Status, j.BidCount, j.PendingBidCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CategoryID, "category", "", "category filter")
	cmd.Flags().StringVar(&f.Location, "location", "", "location filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.SeekerID, "seeker-id", "", "seeker filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().BoolVar(&all, "all", false, "include every status")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job and its bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.Repo.GetJob(ctx, id)
				if err != nil {
					return err
				}
				bids, err := e.Repo.ListBidsForJob(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"job": j, "bids": bids})
				}
				b, _ := json.MarshalIndent(j, "", "  ")
				fmt.Println(string(b))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Bid", "Provider", "Cost", "Time", "Status"})
				for _, bid := range bids {
					tw.AppendRow(table.Row{bid.ID, bid.ProviderName, bid.ProposedCost, bid.EstimatedTime, bid.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func jobCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an open job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				j, err := e.CancelJob(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark an assigned job completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				j, err := e.CompleteJob(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobAssignCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Accept a provider's pending bid on the job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				j, b, err := e.AssignProvider(ctx, id, provider, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"job": j, "bid": b})
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider account id")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func bidCmd() *cobra.Command {
	bid := &cobra.Command{
		Use:   "bid",
		Short: "Manage bids",
		Long:  "A provider holds at most one live bid per job. Accepting a bid assigns the job and rejects the other pending bids in the same transaction.",
	}
	bid.AddCommand(bidSubmitCmd())
	bid.AddCommand(bidAcceptCmd())
	bid.AddCommand(bidRejectCmd())
	bid.AddCommand(bidListCmd())
	return bid
}

func bidSubmitCmd() *cobra.Command {
	var opts engine.BidSubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a bid on an open job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				b, err := e.SubmitBid(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "bid id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.JobID, "job", "", "job id")
	cmd.Flags().Float64Var(&opts.ProposedCost, "cost", 0, "proposed cost")
	cmd.Flags().StringVar(&opts.EstimatedTime, "time", "", "estimated time")
	cmd.Flags().StringVar(&opts.ProposalMessage, "message", "", "proposal message")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("cost")
	return cmd
}

func bidAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				j, b, err := e.AcceptBid(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"job": j, "bid": b})
			})
		},
	}
	return cmd
}

func bidRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				b, err := e.RejectBid(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func bidListCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a provider's bids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target := provider
				if target == "" {
					target = viper.GetString("account-id")
				}
				if target == "" {
					return fmt.Errorf("--provider or --account-id required")
				}
				bids, err := e.Repo.ListBidsForProvider(ctx, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bids)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Job", "Cost", "Status", "Created"})
				for _, b := range bids {
					tw.AppendRow(table.Row{b.ID, b.JobID, b.ProposedCost, b.Status, b.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider account id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var jobID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, jobID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&jobID, "job", "", "job id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if err := e.SeedCategories(cmd.Context()); err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:       cfg.Auth.JWTSecret,
				AllowDevHeaders: cfg.Auth.AllowDevHeaders,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("BIDWORKS_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowDevHeaders {
				return fmt.Errorf("BIDWORKS_JWT_SECRET (or auth.jwt_secret) is required unless auth.allow_dev_headers is set")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bidworks API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if err := e.SeedCategories(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, engine.Actor) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		id := strings.TrimSpace(viper.GetString("account-id"))
		if id == "" {
			return fmt.Errorf("--account-id required")
		}
		a, err := e.Repo.GetAccount(ctx, id)
		if err != nil {
			return fmt.Errorf("resolve account %s: %w", id, err)
		}
		return fn(ctx, e, engine.Actor{AccountID: a.ID, Role: a.Role})
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
