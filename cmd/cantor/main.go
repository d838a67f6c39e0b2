package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cantor/internal/app"
	"cantor/internal/catalog"
	"cantor/internal/domain"
	"cantor/internal/engine"
	"cantor/internal/events"
	"cantor/internal/format"
	"cantor/internal/liturgy"
	"cantor/internal/logging"
	"cantor/internal/repo"
	"cantor/internal/server"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cantor",
		Short: "Cantor recommends songs for the liturgy",
		Long: `Cantor picks songs for each part of the mass from a parish song catalog.
- Catalog: seasons, sub-seasons, celebrations, the calendar, songs and the rules binding songs to mass parts; import it from YAML or JSON.
- Rules: a song bound to a mass part under a condition (celebration, category, season or sub-season) with a priority.
- Recommendation: one song per mass part for a celebration on a date; parts no rule fills fall back to the season's songs.
- Event log: catalog imports and recorded recommendations, view with 'cantor log tail'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	initConfig()
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func initConfig() {
	viper.SetEnvPrefix("CANTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("actor-id", events.LocalActor, "actor identifier")
	root.PersistentFlags().String("log-level", "", "log level (overrides cantor.yml)")
	_ = viper.BindPFlag("workspace", root.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", root.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(subSeasonsCmd())
	root.AddCommand(recommendCmd())
	root.AddCommand(songsCmd())
	root.AddCommand(celebrationsCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(logCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var parish string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create cantor.yml and the catalog database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			created, err := app.Init(cmd.Context(), workspace, parish)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"workspace": workspace, "config_created": created})
			}
			if created {
				fmt.Fprintf(stdout, "initialized workspace %s\n", workspace)
			} else {
				fmt.Fprintf(stdout, "workspace %s already initialized\n", workspace)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&parish, "parish", "", "parish name")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "cantor.yml holds the parish name, recommender settings, label overrides for mass parts, notes and logging.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return printJSON(ws.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, "config OK")
			return nil
		},
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Import and check the song catalog",
	}
	cmd.AddCommand(catalogImportCmd())
	cmd.AddCommand(catalogCheckCmd())
	return cmd
}

func catalogImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML or JSON catalog document",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.ParseFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				im := catalog.Importer{Repo: e.Repo, Events: e.Events}
				st, err := im.Import(ctx, c, viper.GetString("actor-id"))
				if err != nil {
					return describeIntegrity(err)
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Seasons", "Sub-seasons", "Categories", "Celebrations", "Days", "Songs", "Rules"})
				tw.AppendRow(table.Row{st.Seasons, st.SubSeasons, st.Categories, st.Celebrations, st.CalendarDays, st.Songs, st.Rules})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func catalogCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the stored catalog for dangling references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				err := e.Repo.CheckIntegrity(ctx)
				var integrity *domain.IntegrityError
				if viper.GetBool("json") && (err == nil || errors.As(err, &integrity)) {
					problems := []string{}
					if integrity != nil {
						problems = integrity.Problems
					}
					if perr := printJSON(map[string]any{"ok": err == nil, "problems": problems}); perr != nil {
						return perr
					}
					return err
				}
				if err != nil {
					return describeIntegrity(err)
				}
				fmt.Fprintln(stdout, "catalog OK")
				return nil
			})
		},
	}
}

func subSeasonsCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "subseasons",
		Short: "Show the sub-seasons active on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag(date)
			if err != nil {
				return err
			}
			active := liturgy.Classify(day)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				infos, err := e.Repo.SubSeasonInfos(ctx, active)
				if err != nil {
					return err
				}
				described := map[domain.SubSeason]string{}
				for _, info := range infos {
					described[info.Code] = info.Description
				}
				out := make([]domain.SubSeasonInfo, 0, len(active))
				for _, code := range active {
					out = append(out, domain.SubSeasonInfo{Code: code, Description: described[code]})
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Sub-season", "Description"})
				for _, info := range out {
					tw.AppendRow(table.Row{info.Code, info.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	return cmd
}

func recommendCmd() *cobra.Command {
	var date, to, celebration, season string
	var seed int64
	var record bool
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend songs for a celebration, a day or a range of days",
		Long: `Without --celebration every celebration the calendar lists for --date is served.
With --to every calendar day from --date to --to is served.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag(date)
			if err != nil {
				return err
			}
			var seedPtr *int64
			if cmd.Flags().Changed("seed") {
				seedPtr = &seed
			}
			if to != "" && celebration != "" {
				return fmt.Errorf("--to and --celebration are mutually exclusive")
			}
			actor := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				switch {
				case to != "":
					end, err := liturgy.ParseDate(to)
					if err != nil {
						return err
					}
					days, err := e.RecommendRange(ctx, day, end, engine.DayOptions{Seed: seedPtr, Record: record, ActorID: actor})
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						out := make([]map[string]any, 0, len(days))
						for _, d := range days {
							out = append(out, map[string]any{"date": d.Date, "recommendations": views(d.Recommendations)})
						}
						return printJSON(out)
					}
					for _, d := range days {
						printRecommendations(d.Recommendations)
					}
					return nil
				case celebration != "":
					rec, err := e.Recommend(ctx, engine.RecommendOptions{
						Date:        day,
						Celebration: celebration,
						Season:      season,
						Seed:        seedPtr,
						Record:      record,
						ActorID:     actor,
					})
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(rec)
					}
					printRecommendations([]format.Recommendation{rec})
					return nil
				default:
					recs, err := e.RecommendDay(ctx, day, engine.DayOptions{Seed: seedPtr, Record: record, ActorID: actor})
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(views(recs))
					}
					printRecommendations(recs)
					return nil
				}
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&to, "to", "", "last date of a range (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&celebration, "celebration", "c", "", "celebration slug")
	cmd.Flags().StringVar(&season, "season", "", "season code (default: the calendar season)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "fix the random tie-break")
	cmd.Flags().BoolVar(&record, "record", false, "record the recommendation in the event log")
	return cmd
}

func songsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "songs", Short: "Browse songs"}
	var f repo.SongFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List songs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				songs, err := e.Repo.ListSongs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(songs))
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Number", "Title", "Season", "Occasions", "Verses"})
				for _, s := range songs {
					tw.AppendRow(table.Row{s.Number, s.Title, s.Season, strings.Join(s.Occasions, ", "), verses(s)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Season, "season", "", "season filter")
	list.Flags().StringVar(&f.Occasion, "occasion", "", "occasion filter")
	cmd.AddCommand(list)
	return cmd
}

func celebrationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "celebrations", Short: "Browse celebrations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List celebrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCelebrations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(items))
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Slug", "Name", "Categories"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Slug, c.Name, strings.Join(c.Categories, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Browse song rules"}
	var f repo.RuleFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List song rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rules, err := e.Repo.ListRules(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(rules))
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Song", "Title", "Part", "Condition", "Priority", "Exclusive", "Main"})
				for _, r := range rules {
					tw.AppendRow(table.Row{
						r.Song.Number, r.Song.Title, e.Formatter.Label(r.MassPart),
						fmt.Sprintf("%s:%s", r.Condition.Kind, r.Condition.Ref),
						r.Priority, r.Exclusive, r.CanBeMain,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Kind, "kind", "", "condition kind (season, subseason, celebration, category)")
	list.Flags().StringVar(&f.Ref, "ref", "", "condition reference")
	list.Flags().StringVar(&f.MassPart, "mass-part", "", "mass part")
	cmd.AddCommand(list)
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Catalog imports and recorded recommendations, newest first.",
	}
	var n int
	var entityKind string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Repo.TailEvents(ctx, n, entityKind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(evts))
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, strings.TrimSuffix(evt.EntityKind+":"+evt.EntityID, ":"), evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (catalog, recommendation)")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath, secret string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Read endpoints are public. POST /catalog needs a bearer token signed with --jwt-secret (or CANTOR_JWT_SECRET); mint one with 'cantor token'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = viper.GetString("jwt-secret")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				log := logging.Component("serve")
				if secret == "" {
					log.Warn().Msg("no jwt secret configured; catalog import over HTTP is disabled")
				}
				handler, err := server.New(server.Config{
					Engine:      ws.Engine,
					BasePath:    basePath,
					Auth:        server.AuthConfig{JWTSecret: secret},
					CORSOrigins: ws.Config.Server.CORSOrigins,
					RateLimit:   ws.Config.Server.RateLimit,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving cantor API (OpenAPI at <base>/openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&secret, "jwt-secret", "", "HS256 secret for bearer tokens")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject, secret string
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = viper.GetString("jwt-secret")
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			token, err := server.SignToken(secret, subject, perms, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Fprintln(stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (default: --actor-id)")
	cmd.Flags().StringVar(&secret, "jwt-secret", "", "HS256 secret (default: CANTOR_JWT_SECRET)")
	cmd.Flags().StringSliceVar(&perms, "permission", []string{server.PermissionCatalogWrite}, "granted permissions")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{
		LogLevel:  viper.GetString("log-level"),
		LogOutput: stderr,
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine)
	})
}

func parseDateFlag(raw string) (time.Time, error) {
	if raw == "" {
		return liturgy.Day(time.Now()), nil
	}
	return liturgy.ParseDate(raw)
}

func printRecommendations(recs []format.Recommendation) {
	for _, rec := range recs {
		fmt.Fprintf(stdout, "%s  %s (%s)\n", domain.FormatDate(rec.Date()), rec.Celebration().Name, rec.Season())
		if rec.Degraded() {
			fmt.Fprintln(stdout, "warning: no main song found")
		}
		if d := rec.Description(); d != "" {
			fmt.Fprintln(stdout, d)
		}
		tw := newTable()
		tw.AppendHeader(table.Row{"Part", "Number", "Title", "Source"})
		for _, it := range rec.Items() {
			tw.AppendRow(table.Row{it.Label, it.Number, it.Title, it.Source})
		}
		tw.Render()
	}
}

func views(recs []format.Recommendation) []format.View {
	out := make([]format.View, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.View())
	}
	return out
}

func verses(s domain.Song) string {
	var v []string
	if s.HasCommunionVerse {
		v = append(v, "communion")
	}
	if s.HasRecessionalVerse {
		v = append(v, "recessional")
	}
	return strings.Join(v, ", ")
}

func describeIntegrity(err error) error {
	var integrity *domain.IntegrityError
	if !errors.As(err, &integrity) {
		return err
	}
	for _, p := range integrity.Problems {
		fmt.Fprintln(stderr, "  -", p)
	}
	return err
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
