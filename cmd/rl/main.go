package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"requestline/internal/app"
	"requestline/internal/config"
	"requestline/internal/db"
	"requestline/internal/domain"
	"requestline/internal/engine"
	"requestline/internal/repo"
	"requestline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Requestline CLI",
	Long: `Requestline tracks work requests through a guarded lifecycle with a
tamper-evident audit trail.
- Workspace: the .requestline directory holding the database and attachments.
- Requests: move created -> processing -> completed (or cannot_process);
  a request can be split into child requests owned by other departments.
- Steps: the append-only diary of every change, written in the same
  transaction as the change itself ('rl request steps <id>').
- Inspections: external reviewers get a one-time link and submit a verdict
  without an account.
- Releases: deployment records approved independently of request status.
- Codes: the registry validating request types and systems, seeded from
  requestline.yml.`,
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
	viper.SetEnvPrefix("REQUESTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(codesCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default requestline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Request counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountRequestsByStatus(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Manage requests"}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestApproveCmd())
	req.AddCommand(requestAssignCmd())
	req.AddCommand(requestSplitCmd())
	req.AddCommand(requestAcceptCmd())
	req.AddCommand(requestCompleteCmd())
	req.AddCommand(requestRejectCmd())
	req.AddCommand(requestStepsCmd())
	req.AddCommand(requestTreeCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var effort float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("expected-effort") {
				opts.ExpectedEffort = &effort
			}
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "request type code")
	cmd.Flags().StringVar(&opts.System, "system", "", "target system code")
	cmd.Flags().StringVar(&opts.Module, "module", "", "target module")
	cmd.Flags().StringVar(&opts.Department, "department", "", "requesting department")
	cmd.Flags().StringVar(&opts.Requester, "requester", "", "requester name")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason for the request")
	cmd.Flags().StringVar(&opts.Details, "details", "", "request details")
	cmd.Flags().StringVar(&opts.RequestedDate, "requested-date", "", "date the request was made")
	cmd.Flags().StringVar(&opts.DueDate, "due-date", "", "due date")
	cmd.Flags().Float64Var(&effort, "expected-effort", 0, "expected effort in days")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Assignee", "Due", "Requester"})
				for _, r := range items {
					assignee := ""
					if r.AssigneeID != nil {
						assignee = *r.AssigneeID
					}
					due := ""
					if r.DueDate != nil {
						due = *r.DueDate
					}
					tw.AppendRow(table.Row{r.ID, r.Type, r.Status, assignee, due, r.Requester})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent request id")
	cmd.Flags().BoolVar(&f.RootsOnly, "roots", false, "only root requests")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func requestApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Approve(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func requestAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if assignee == "" {
				return fmt.Errorf("--assignee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Assign(ctx, args[0], assignee, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee id")
	return cmd
}

func requestSplitCmd() *cobra.Command {
	var opts engine.SplitOptions
	cmd := &cobra.Command{
		Use:   "split <id>",
		Short: "Split a request into a child request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ParentID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				child, err := e.Split(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(child)
			})
		},
	}
	cmd.Flags().StringVar(&opts.System, "system", "", "child system override")
	cmd.Flags().StringVar(&opts.Module, "module", "", "child module override")
	cmd.Flags().StringVar(&opts.DueDate, "due-date", "", "child due date")
	cmd.Flags().StringVar(&opts.SplitContent, "content", "", "what the child covers")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "child assignee")
	return cmd
}

func requestAcceptCmd() *cobra.Command {
	var opts engine.AcceptOptions
	var effort float64
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept a split request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RequestID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("expected-effort") {
				opts.ExpectedEffort = &effort
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Accept(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.DueDate, "due-date", "", "due date")
	cmd.Flags().StringVar(&opts.ReceivingOpinion, "opinion", "", "receiving department opinion")
	cmd.Flags().Float64Var(&effort, "expected-effort", 0, "expected effort in days")
	return cmd
}

func requestCompleteCmd() *cobra.Command {
	var opts engine.CompleteOptions
	var effort float64
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RequestID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("actual-effort") {
				opts.ActualEffort = &effort
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Complete(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CompletionDate, "date", "", "completion date")
	cmd.Flags().StringVar(&opts.CompletionContent, "content", "", "what was done")
	cmd.Flags().Float64Var(&effort, "actual-effort", 0, "actual effort in days")
	return cmd
}

func requestRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Mark a request cannot process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Reject(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the request cannot be processed")
	return cmd
}

func requestStepsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "steps <id>",
		Short: "Show a request's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetRequest(ctx, args[0]); err != nil {
					return err
				}
				items, err := e.Repo.ListSteps(ctx, repo.StepFilters{RequestID: args[0], Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, s := range items {
					actor := "-"
					if s.ActorID != nil {
						actor = *s.ActorID
					}
					fmt.Printf("%3d  %s  [%s]  %s  %s\n", s.Seq, s.TS, s.Status, actor, s.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status snapshot filter")
	return cmd
}

func requestTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree <id>",
		Short: "Show the split tree from the root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				root, err := e.GetRoot(ctx, args[0])
				if err != nil {
					return err
				}
				children, err := e.Repo.ListChildren(ctx, root.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"root": root, "children": children})
				}
				fmt.Printf("%s [%s] %s\n", root.ID, root.Status, root.Reason)
				for i, c := range children {
					connector := "├── "
					if i == len(children)-1 {
						connector = "└── "
					}
					fmt.Printf("%s%s [%s] %s\n", connector, c.ID, c.Status, c.SplitContent)
				}
				return nil
			})
		},
	}
	return cmd
}

func inspectCmd() *cobra.Command {
	insp := &cobra.Command{Use: "inspect", Short: "Manage inspections"}
	insp.AddCommand(inspectRequestCmd())
	insp.AddCommand(inspectSubmitCmd())
	insp.AddCommand(inspectListCmd())
	return insp
}

func inspectRequestCmd() *cobra.Command {
	var opts engine.InspectionOptions
	cmd := &cobra.Command{
		Use:   "request <request-id>",
		Short: "Request an inspection (prints the one-time completion link)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RequestID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, token, err := e.RequestInspection(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"inspection":      in,
						"token":           token,
						"completion_path": engine.CompletionPath(token),
					})
				}
				fmt.Printf("Inspection %d created for request %s\n", in.Seq, in.RequestID)
				fmt.Printf("One-time completion link: %s\n", engine.CompletionPath(token))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ReviewerName, "reviewer-name", "", "reviewer name")
	cmd.Flags().StringVar(&opts.ReviewerEmail, "reviewer-email", "", "reviewer email")
	cmd.Flags().StringVar(&opts.DevTestNotes, "dev-notes", "", "developer test notes")
	cmd.Flags().StringVar(&opts.TestInstructions, "instructions", "", "test instructions for the reviewer")
	_ = cmd.MarkFlagRequired("reviewer-name")
	_ = cmd.MarkFlagRequired("reviewer-email")
	return cmd
}

func inspectSubmitCmd() *cobra.Command {
	var verdict, note string
	cmd := &cobra.Command{
		Use:   "submit <token>",
		Short: "Submit an inspection verdict by capability token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.SubmitInspectionResult(ctx, args[0], verdict, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "complete or needs_rework")
	cmd.Flags().StringVar(&note, "note", "", "reviewer narrative")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func inspectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <request-id>",
		Short: "List inspections of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListInspections(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func releaseCmd() *cobra.Command {
	rel := &cobra.Command{Use: "release", Short: "Manage releases"}
	rel.AddCommand(releaseRequestCmd())
	rel.AddCommand(releaseApproveCmd())
	rel.AddCommand(releaseListCmd())
	return rel
}

func releaseRequestCmd() *cobra.Command {
	var opts engine.ReleaseOptions
	cmd := &cobra.Command{
		Use:   "request <request-id>",
		Short: "Record a release request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RequestID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rel, err := e.RequestRelease(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ReleaseDate, "date", "", "planned release date")
	cmd.Flags().StringVar(&opts.SourceSystem, "source", "", "source system")
	cmd.Flags().StringVar(&opts.TargetSystem, "target", "", "target system")
	cmd.Flags().StringVar(&opts.TicketNumber, "ticket", "", "change ticket number")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what ships")
	return cmd
}

func releaseApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <release-id>",
		Short: "Approve a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rel, err := e.ApproveRelease(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	return cmd
}

func releaseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <request-id>",
		Short: "List releases of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReleases(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func attachCmd() *cobra.Command {
	att := &cobra.Command{Use: "attach", Short: "Manage attachments"}
	att.AddCommand(attachAddCmd())
	att.AddCommand(attachListCmd())
	return att
}

func attachAddCmd() *cobra.Command {
	var file, origin string
	var stepID int64
	cmd := &cobra.Command{
		Use:   "add <request-id>",
		Short: "Attach a file to a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			opts := engine.AttachOptions{
				RequestID: args[0],
				Origin:    origin,
				FileName:  filepath.Base(file),
				Data:      data,
				ActorID:   viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("step-id") {
				opts.StepID = &stepID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Attach(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path of the file to attach")
	cmd.Flags().StringVar(&origin, "origin", domain.AttachmentOriginRequest, "origin (request, reception, step)")
	cmd.Flags().Int64Var(&stepID, "step-id", 0, "owning step id for origin=step")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func attachListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <request-id>",
		Short: "List attachments aggregated at the request's root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RootAttachments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func codesCmd() *cobra.Command {
	codes := &cobra.Command{Use: "codes", Short: "Code registry"}
	codes.AddCommand(&cobra.Command{
		Use:   "list <group>",
		Short: "List codes of a registry group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCodes(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Label", "Parent"})
				for _, c := range items {
					parent := ""
					if c.ParentCode != nil {
						parent = *c.ParentCode
					}
					tw.AppendRow(table.Row{c.Code, c.Label, parent})
				}
				tw.Render()
				return nil
			})
		},
	})
	return codes
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw, err := randomHex(32)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.EnsureActor(ctx, tx, actor, rec.CreatedAt); err != nil {
					return err
				}
				if err := e.Repo.InsertAPIKey(ctx, tx, rec); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": rec.ID, "actor_id": rec.ActorID, "key": raw})
				}
				fmt.Printf("Created key %s for %s\nX-Api-Key: %s\n", rec.ID, rec.ActorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key acts as (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Step log",
		Long:  "The diary of everything that happened across all requests.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail the newest steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestSteps(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of steps")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("REQUESTLINE_JWT_SECRET"),
				AllowLegacyActorHeader: a.Config.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = a.Config.Auth.JWTSecret
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Context:  cmd.Context(),
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
			fmt.Printf("Serving Requestline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
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
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Repo)
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

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
