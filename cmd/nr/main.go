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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nextread/internal/catalog"
	"nextread/internal/config"
	"nextread/internal/db"
	"nextread/internal/domain"
	"nextread/internal/engine"
	"nextread/internal/migrate"
	"nextread/internal/repo"
	"nextread/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "nr",
	Short: "Nextread CLI",
	Long: `Nextread runs a private book club around one shared reading state.
How it works:
- Workspace: your .nextread directory holds the database; nextread.yml holds the config.
- Catalog: the list of books and series, loaded from YAML (or the built-in starter set).
- Draw: picks the next book. Mid-series the next installment is forced; otherwise a
  random draw over standalones and series openers.
- Decision: after finishing book 1 of a series the club decides continue, pause or drop
  before the next draw.
- Members, remarks, suggestions, and reading progress round out the club; every change
  lands in the event log ('nr log tail').`,
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
	viper.SetEnvPrefix("NEXTREAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "local-user", "member display name acting on the club")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(drawCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(pauseCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(bookCmd())
	rootCmd.AddCommand(seriesCmd())
	rootCmd.AddCommand(remarkCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(passcodeCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var clubName, passcode string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a club workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			cfg := config.Default(clubName)
			if passcode != "" {
				hash, err := engine.HashPasscode(passcode)
				if err != nil {
					return err
				}
				cfg.Club.PasscodeHash = hash
			}
			yamlOut := config.GenerateDefault(clubName)
			if cfg.Club.PasscodeHash != "" {
				yamlOut = strings.Replace(yamlOut, `passcode_hash: ""`, fmt.Sprintf("passcode_hash: %q", cfg.Club.PasscodeHash), 1)
			}
			if err := os.WriteFile(cfgPath, []byte(yamlOut), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg, catalog.Starter())
			if _, err := e.EnsureState(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Initialized club %q in %s\n", clubName, workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&clubName, "club", "book club", "club name")
	cmd.Flags().StringVar(&passcode, "passcode", "", "shared passcode to hash into the config")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the club's reading state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, mode, err := e.State(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"state": st, "mode": mode})
				}
				fmt.Printf("Mode: %s", mode.Mode)
				if mode.SeriesName != "" {
					fmt.Printf(" (%s", mode.SeriesName)
					if mode.NextOrder > 0 {
						fmt.Printf(", next book %d", mode.NextOrder)
					}
					fmt.Print(")")
				}
				fmt.Println()
				fmt.Printf("Completed: %d books\n", len(st.CompletedBookIDs))
				if st.CurrentPickID != "" {
					fmt.Printf("Current pick: %s\n", st.CurrentPickID)
				}
				if len(st.SeriesState) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Series", "Status", "Next", "Progress"})
					for _, b := range e.Catalog {
						if b.Series == nil || b.Series.Order != 1 {
							continue
						}
						ss := st.SeriesState[b.Series.Name]
						progress, err := e.SeriesProgress(ctx, b.Series.Name)
						if err != nil {
							return err
						}
						tw.AppendRow(table.Row{b.Series.Name, ss.Status, ss.NextOrder,
							fmt.Sprintf("%d/%d", progress.Completed, progress.Total)})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	return cmd
}

func drawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Pick the next book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				result, err := e.Draw(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				if result.Book == nil {
					fmt.Println(result.Reason)
					return nil
				}
				fmt.Printf("%s by %s\n", result.Book.Title, result.Book.Author)
				fmt.Println(result.Reason)
				return nil
			})
		},
	}
	return cmd
}

func completeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <book-id>",
		Short: "Mark a book completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				st, err := e.Complete(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Completed %s (%d total)\n", args[0], len(st.CompletedBookIDs))
				if st.PendingDecision != "" {
					fmt.Printf("Decision needed for %q: nr decide %q --decision continue|pause|drop\n",
						st.PendingDecision, st.PendingDecision)
				}
				return nil
			})
		},
	}
	return cmd
}

func decideCmd() *cobra.Command {
	var decision string
	cmd := &cobra.Command{
		Use:   "decide <series>",
		Short: "Resolve a pending series decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				st, err := e.Decide(ctx, args[0], decision, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Series %q is now %s\n", args[0], st.SeriesState[args[0]].Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "continue, pause or drop")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func pauseCmd() *cobra.Command {
	return seriesTransitionCmd("pause", "Pause an active series",
		func(ctx context.Context, e engine.Engine, name, actor string) (domain.AppState, error) {
			return e.Pause(ctx, name, actor)
		})
}

func resumeCmd() *cobra.Command {
	return seriesTransitionCmd("resume", "Resume a paused series",
		func(ctx context.Context, e engine.Engine, name, actor string) (domain.AppState, error) {
			return e.Resume(ctx, name, actor)
		})
}

func seriesTransitionCmd(verb, short string, fn func(context.Context, engine.Engine, string, string) (domain.AppState, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <series>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				st, err := fn(ctx, e, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Series %q is now %s\n", args[0], st.SeriesState[args[0]].Status)
				return nil
			})
		},
	}
}

func bookCmd() *cobra.Command {
	book := &cobra.Command{Use: "book", Short: "Browse the catalog"}
	book.AddCommand(bookListCmd())
	book.AddCommand(bookShowCmd())
	return book
}

func bookListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books with eligibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.EnsureState(ctx)
				if err != nil {
					return err
				}
				completed := map[string]bool{}
				for _, id := range snap.State.CompletedBookIDs {
					completed[id] = true
				}
				if viper.GetBool("json") {
					type row struct {
						domain.Book
						Completed   bool               `json:"completed"`
						Eligibility domain.Eligibility `json:"eligibility"`
					}
					out := make([]row, 0, len(e.Catalog))
					for _, b := range e.Catalog {
						_, el, err := e.Eligibility(ctx, b.ID)
						if err != nil {
							return err
						}
						out = append(out, row{Book: b, Completed: completed[b.ID], Eligibility: el})
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Series", "Done", "Eligibility"})
				for _, b := range e.Catalog {
					series := ""
					if b.Series != nil {
						series = fmt.Sprintf("%s %d/%d", b.Series.Name, b.Series.Order, b.Series.Total)
					}
					done := ""
					if completed[b.ID] {
						done = "yes"
					}
					_, el, err := e.Eligibility(ctx, b.ID)
					if err != nil {
						return err
					}
					tw.AppendRow(table.Row{b.ID, b.Title, series, done, el.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func bookShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show a book and its eligibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				book, el, err := e.Eligibility(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"book": book, "eligibility": el})
			})
		},
	}
	return cmd
}

func seriesCmd() *cobra.Command {
	series := &cobra.Command{Use: "series", Short: "Series progress"}
	series.AddCommand(&cobra.Command{
		Use:   "progress <series>",
		Short: "Show completed/total and status for a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				progress, err := e.SeriesProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(progress)
				}
				fmt.Printf("%s: %d/%d (%s)\n", args[0], progress.Completed, progress.Total, progress.Status)
				return nil
			})
		},
	})
	return series
}

func remarkCmd() *cobra.Command {
	remark := &cobra.Command{Use: "remark", Short: "Book remarks"}
	remark.AddCommand(remarkAddCmd())
	remark.AddCommand(remarkListCmd())
	return remark
}

func remarkAddCmd() *cobra.Command {
	var note string
	var rating int
	cmd := &cobra.Command{
		Use:   "add <book-id>",
		Short: "Add a remark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				var ratingPtr *int
				if cmd.Flags().Changed("rating") {
					ratingPtr = &rating
				}
				rm, err := e.AddRemark(ctx, actor, args[0], note, ratingPtr)
				if err != nil {
					return err
				}
				return printJSONOrIndent(rm)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "remark text")
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func remarkListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <book-id>",
		Short: "List remarks for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				remarks, err := e.Repo.ListRemarks(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(remarks)
			})
		},
	}
	return cmd
}

func suggestCmd() *cobra.Command {
	suggest := &cobra.Command{Use: "suggest", Short: "Book suggestions"}
	suggest.AddCommand(suggestAddCmd())
	suggest.AddCommand(suggestListCmd())
	suggest.AddCommand(suggestVoteCmd())
	suggest.AddCommand(suggestDeleteCmd())
	return suggest
}

func suggestAddCmd() *cobra.Command {
	var title, author, cover string
	var genres []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Suggest a book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				s, err := e.AddSuggestion(ctx, actor, title, author, cover, genres)
				if err != nil {
					return err
				}
				return printJSONOrIndent(s)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "book title")
	cmd.Flags().StringVar(&author, "author", "", "author")
	cmd.Flags().StringVar(&cover, "cover-url", "", "cover image URL")
	cmd.Flags().StringArrayVar(&genres, "genre", []string{}, "genre (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func suggestListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				suggestions, err := e.Repo.ListSuggestions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Author", "Votes"})
				for _, s := range suggestions {
					tw.AppendRow(table.Row{s.ID, s.Title, s.Author, len(s.Votes)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func suggestVoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote <suggestion-id>",
		Short: "Toggle your vote on a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				voted, err := e.VoteSuggestion(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]bool{"voted": voted})
				}
				if voted {
					fmt.Println("vote added")
				} else {
					fmt.Println("vote removed")
				}
				return nil
			})
		},
	}
	return cmd
}

func suggestDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <suggestion-id>",
		Short: "Delete your suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteSuggestion(ctx, actor, args[0])
			})
		},
	}
	return cmd
}

func progressCmd() *cobra.Command {
	progress := &cobra.Command{Use: "progress", Short: "Reading progress"}
	progress.AddCommand(progressSetCmd())
	progress.AddCommand(progressListCmd())
	return progress
}

func progressSetCmd() *cobra.Command {
	var chapter, total int
	cmd := &cobra.Command{
		Use:   "set <book-id>",
		Short: "Record your position in a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				p, err := e.SetProgress(ctx, actor, args[0], chapter, total)
				if err != nil {
					return err
				}
				return printJSONOrIndent(p)
			})
		},
	}
	cmd.Flags().IntVar(&chapter, "chapter", 0, "current chapter")
	cmd.Flags().IntVar(&total, "total", 0, "total chapters")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func progressListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <book-id>",
		Short: "Show everyone's position in a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				progress, err := e.Repo.ListProgress(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(progress)
			})
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Club members"}
	member.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				members, err := e.Repo.ListMembers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Goal", "Joined"})
				for _, m := range members {
					goal := ""
					if m.ReadingGoal != nil {
						goal = fmt.Sprintf("%d", *m.ReadingGoal)
					}
					tw.AppendRow(table.Row{m.ID, m.DisplayName, goal, m.JoinedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	member.AddCommand(memberGoalCmd())
	return member
}

func memberGoalCmd() *cobra.Command {
	var goal int
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Set your yearly reading goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveMember(ctx, e)
				if err != nil {
					return err
				}
				m, err := e.SetReadingGoal(ctx, actor, goal)
				if err != nil {
					return err
				}
				return printJSONOrIndent(m)
			})
		},
	}
	cmd.Flags().IntVar(&goal, "goal", 0, "books per year")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

func passcodeCmd() *cobra.Command {
	passcode := &cobra.Command{Use: "passcode", Short: "Club passcode helpers"}
	passcode.AddCommand(&cobra.Command{
		Use:   "hash <passcode>",
		Short: "Hash a passcode for nextread.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := engine.HashPasscode(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	})
	return passcode
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			books, err := loadCatalog(workspace, cfg)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, books)
			secret := cfg.Auth.JWTSecret
			if secret == "" {
				secret = os.Getenv("NEXTREAD_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("auth.jwt_secret (or NEXTREAD_JWT_SECRET) is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, TokenTTLDays: cfg.TokenTTLDaysOrDefault()},
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
			fmt.Printf("Serving Nextread API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("book club")
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	books, err := loadCatalog(workspace, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, books))
}

func loadCatalog(workspace string, cfg *config.Config) ([]domain.Book, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Starter(), nil
	}
	path := cfg.Catalog.Path
	if !strings.HasPrefix(path, "/") {
		path = workspace + "/" + path
	}
	return catalog.Load(path)
}

// resolveMember maps the --as display name to a member id, creating the
// profile on first use so local CLI actions always have an actor.
func resolveMember(ctx context.Context, e engine.Engine) (string, error) {
	name := strings.TrimSpace(viper.GetString("as"))
	if name == "" {
		return "", fmt.Errorf("--as member name required")
	}
	m, err := e.Repo.GetMemberByName(ctx, name)
	if err == nil {
		return m.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	m, err = e.Join(ctx, name, "")
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func printJSONOrIndent(v any) error {
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
