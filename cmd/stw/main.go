package main

import (
	"context"
	"database/sql"
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

	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/mcp"
	"steward/internal/migrate"
	"steward/internal/repo"
	"steward/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "stw",
	Short: "Steward CLI",
	Long: `Steward keeps property-operations records behind a propose-then-approve gate.
Agents and MCP clients draft changes through the JSON-RPC gateway; humans
review drafts and approve or reject them. Approval applies the entity writes,
audit records and timeline entries in one transaction.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("STEWARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(vendorCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default steward.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective role catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an organization and add yourself as owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				o := domain.Organization{ID: uuid.NewString(), Name: name, CreatedAt: now}
				if err := r.InsertOrganization(ctx, o); err != nil {
					return err
				}
				m := domain.Membership{OrgID: o.ID, UserID: viper.GetString("user-id"), Role: "owner", CreatedAt: now}
				if err := r.UpsertMembership(ctx, m); err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "organization name")
	org.AddCommand(create)

	org.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orgs, err := r.ListOrganizationsFor(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orgs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.ID, o.Name, o.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	org.AddCommand(&cobra.Command{
		Use:   "show <org-id>",
		Short: "Show one organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOrganization(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	})
	return org
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage organization members"}

	var orgID, userID, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add or update a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" || userID == "" || role == "" {
				return errors.New("--org, --user and --role are required")
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if _, ok := cfg.Roles[role]; !ok {
				return fmt.Errorf("role %s is not in the catalog", role)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				m := domain.Membership{OrgID: orgID, UserID: userID, Role: role, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
				if err := r.UpsertMembership(ctx, m); err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	add.Flags().StringVar(&orgID, "org", "", "organization id")
	add.Flags().StringVar(&userID, "user", "", "user id")
	add.Flags().StringVar(&role, "role", "", "role from the catalog")
	member.AddCommand(add)

	var listOrg string
	list := &cobra.Command{
		Use:   "list",
		Short: "List members of an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listOrg == "" {
				return errors.New("--org is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				members, err := r.ListMemberships(ctx, listOrg)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"User", "Role", "Since"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.UserID, m.Role, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listOrg, "org", "", "organization id")
	member.AddCommand(list)

	var showOrg, showUser string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a member's role and effective permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showOrg == "" || showUser == "" {
				return errors.New("--org and --user are required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				role, err := e.Auth.Role(ctx, showOrg, showUser)
				if err != nil {
					return err
				}
				perms, err := e.Auth.Permissions(ctx, showOrg, showUser)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"user_id": showUser, "role": role, "permissions": perms})
			})
		},
	}
	show.Flags().StringVar(&showOrg, "org", "", "organization id")
	show.Flags().StringVar(&showUser, "user", "", "user id")
	member.AddCommand(show)

	var rmOrg, rmUser string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rmOrg == "" || rmUser == "" {
				return errors.New("--org and --user are required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetMembership(ctx, rmOrg, rmUser); err != nil {
					return err
				}
				return r.DeleteMembership(ctx, rmOrg, rmUser)
			})
		},
	}
	remove.Flags().StringVar(&rmOrg, "org", "", "organization id")
	remove.Flags().StringVar(&rmUser, "user", "", "user id")
	member.AddCommand(remove)
	return member
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage gateway API keys"}

	var callerID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an MCP caller; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if callerID == "" {
				return errors.New("--caller is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString() + uuid.NewString()
				k := domain.APIKey{
					ID:       uuid.NewString(),
					CallerID: callerID,
					Name:     name,
					KeyHash:  repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": k.ID, "caller_id": k.CallerID, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&callerID, "caller", "", "caller id the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "key label")
	key.AddCommand(create)

	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Caller", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.CallerID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	key.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return key
}

// vendorCmd manages the vendor directory. Vendors are operator-seeded
// reference data, not proposal targets, so they skip the draft flow.
func vendorCmd() *cobra.Command {
	vendor := &cobra.Command{Use: "vendor", Short: "Manage the vendor directory"}

	var orgID, name, trade, email, phone string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a vendor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" || name == "" {
				return errors.New("--org and --name are required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v := domain.Vendor{
					ID:        uuid.NewString(),
					OrgID:     orgID,
					Name:      name,
					Trade:     trade,
					Email:     email,
					Phone:     phone,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertVendor(ctx, v); err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	}
	add.Flags().StringVar(&orgID, "org", "", "organization id")
	add.Flags().StringVar(&name, "name", "", "vendor name")
	add.Flags().StringVar(&trade, "trade", "", "trade, e.g. plumbing")
	add.Flags().StringVar(&email, "email", "", "contact email")
	add.Flags().StringVar(&phone, "phone", "", "contact phone")
	vendor.AddCommand(add)

	var listOrg string
	list := &cobra.Command{
		Use:   "list",
		Short: "List vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listOrg == "" {
				return errors.New("--org is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				vendors, err := r.ListVendors(ctx, listOrg, repo.ListPage{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vendors)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Trade", "Email", "Phone"})
				for _, v := range vendors {
					tw.AppendRow(table.Row{v.ID, v.Name, v.Trade, v.Email, v.Phone})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listOrg, "org", "", "organization id")
	vendor.AddCommand(list)
	return vendor
}

func draftCmd() *cobra.Command {
	draft := &cobra.Command{Use: "draft", Short: "Review proposals"}

	var listOrg, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listOrg == "" {
				return errors.New("--org is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				drafts, err := r.ListProposals(ctx, listOrg, status, repo.ListPage{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(drafts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Status", "Title", "Author", "Created"})
				for _, d := range drafts {
					tw.AppendRow(table.Row{d.ID, d.Status, d.Title, d.Author.Display(), d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listOrg, "org", "", "organization id")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	draft.AddCommand(list)

	var showOrg string
	show := &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show one draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if showOrg == "" {
				return errors.New("--org is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d, err := r.GetProposal(ctx, showOrg, args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	show.Flags().StringVar(&showOrg, "org", "", "organization id")
	draft.AddCommand(show)

	var approveOrg string
	approve := &cobra.Command{
		Use:   "approve <draft-id>",
		Short: "Approve and apply a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approveOrg == "" {
				return errors.New("--org is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reviewer := domain.UserActor(viper.GetString("user-id"))
				d, refs, err := e.Approve(ctx, approveOrg, args[0], reviewer)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"draft": d, "applied": refs})
			})
		},
	}
	approve.Flags().StringVar(&approveOrg, "org", "", "organization id")
	draft.AddCommand(approve)

	var rejectOrg, reason string
	reject := &cobra.Command{
		Use:   "reject <draft-id>",
		Short: "Reject a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rejectOrg == "" {
				return errors.New("--org is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reviewer := domain.UserActor(viper.GetString("user-id"))
				d, err := e.Reject(ctx, rejectOrg, args[0], reviewer, reason)
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	reject.Flags().StringVar(&rejectOrg, "org", "", "organization id")
	reject.Flags().StringVar(&reason, "reason", "", "why the draft is rejected")
	draft.AddCommand(reject)
	return draft
}

func timelineCmd() *cobra.Command {
	var orgID, propertyID string
	var limit int
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show recent timeline entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return errors.New("--org is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListTimeline(ctx, orgID, propertyID, 0, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Entity", "Actor", "Summary", "At"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.EntityType, e.Actor.Display(), e.Summary, e.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&propertyID, "property", "", "filter by property")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect gateway activity"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent tool invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				invs, err := r.ListInvocations(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(invs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Method", "Tool", "Caller", "ms", "Outcome", "At"})
				for _, inv := range invs {
					caller := inv.CallerKind
					if inv.CallerID != "" {
						caller += ":" + inv.CallerID
					}
					tw.AppendRow(table.Row{inv.ID, inv.Method, inv.Tool, caller, inv.DurationMS, inv.Outcome, inv.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "max rows")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and JSON-RPC gateway",
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
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Auth.JWTSecret
			if env := os.Getenv("STEWARD_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required: set auth.jwt_secret or STEWARD_JWT_SECRET")
			}
			e := engine.New(conn, cfg)
			gateway := mcp.NewGateway(e, nil)
			handler, err := server.New(server.Config{
				Engine:   e,
				Gateway:  gateway,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
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
			fmt.Printf("Serving Steward on http://%s (REST at %s, JSON-RPC at /rpc)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "REST base path")
	return cmd
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func openDB() (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
