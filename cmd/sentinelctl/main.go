// Command sentinelctl is the operator-facing CLI for a Sentinel
// governance store: inspecting audit chains, testing policy decisions
// offline, and suspending/resuming sessions.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengovern/sentinel/internal/audit"
	"github.com/opengovern/sentinel/internal/classify"
	"github.com/opengovern/sentinel/internal/config"
	"github.com/opengovern/sentinel/internal/eventstream"
	"github.com/opengovern/sentinel/internal/facade"
	"github.com/opengovern/sentinel/internal/livefeed"
	"github.com/opengovern/sentinel/internal/policy"
	"github.com/opengovern/sentinel/internal/ratelimit"
	"github.com/opengovern/sentinel/internal/session"
	"github.com/opengovern/sentinel/internal/suspend"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sentinelctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sentinelctl",
		Short:         "Inspect and operate a Sentinel governance store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config.yaml")

	root.AddCommand(newInitCmd())
	root.AddCommand(newAuditCmd())
	root.AddCommand(newPolicyCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newServeCmd())
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".sentinel", "config.yaml")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// storageRoot expands the leading "~" in cfg.Storage.Root, matching the
// shorthand the default config ships with.
func storageRoot(cfg *config.Config) (string, error) {
	root := cfg.Storage.Root
	if strings.HasPrefix(root, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		root = filepath.Join(home, strings.TrimPrefix(root, "~"))
	}
	return root, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- init ------------------------------------------------------------

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml and policy bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := config.WriteDefault(configPath); err != nil {
				return fmt.Errorf("writing default config: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := storageRoot(cfg)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("creating storage root %s: %w", root, err)
			}

			policyPath := filepath.Join(root, cfg.Storage.PolicyFile)
			if err := policy.WriteDefaultConfig(policyPath); err != nil {
				return fmt.Errorf("writing default policy bundle: %w", err)
			}

			fmt.Printf("wrote %s and %s\n", configPath, policyPath)
			return nil
		},
	}
}

// --- audit -------------------------------------------------------------

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect a session's audit chain",
	}
	cmd.AddCommand(newAuditTailCmd())
	cmd.AddCommand(newAuditQueryCmd())
	cmd.AddCommand(newAuditVerifyCmd())
	cmd.AddCommand(newAuditExportCmd())
	return cmd
}

func openChain(sessionID string) (*audit.Chain, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	root, err := storageRoot(cfg)
	if err != nil {
		return nil, "", err
	}
	chain, err := audit.Open(filepath.Join(root, "audit"), sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("opening audit chain for %s: %w", sessionID, err)
	}
	return chain, root, nil
}

func newAuditTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail <sessionId>",
		Short: "Print the N most recent audit records for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, _, err := openChain(args[0])
			if err != nil {
				return err
			}
			recs, err := chain.Filter(audit.FilterCriteria{Limit: n})
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 20, "number of records to print")
	return cmd
}

func newAuditQueryCmd() *cobra.Command {
	var crit audit.FilterCriteria
	var status string
	cmd := &cobra.Command{
		Use:   "query <sessionId>",
		Short: "Filter a session's audit records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, _, err := openChain(args[0])
			if err != nil {
				return err
			}
			crit.Status = audit.ResultStatus(status)
			recs, err := chain.Filter(crit)
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
	cmd.Flags().StringVar(&crit.Tool, "tool", "", "filter by tool name")
	cmd.Flags().StringVar(&crit.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&status, "status", "", "filter by result status: success|error|blocked")
	cmd.Flags().StringVar(&crit.Target, "target", "", "filter by target glob pattern")
	cmd.Flags().StringVar(&crit.Since, "since", "", "ISO-8601 timestamp or relative duration like 24h")
	cmd.Flags().IntVar(&crit.Limit, "limit", 0, "max number of records, 0 for unlimited")
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <sessionId>",
		Short: "Verify a session's hash chain and signatures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			chain, root, err := openChain(sessionID)
			if err != nil {
				return err
			}

			store, err := session.Open(filepath.Join(root, "sessions"), sessionID, zap.NewNop())
			if err != nil {
				return fmt.Errorf("opening session state: %w", err)
			}
			kp := store.SigningKeyPair()
			pub, err := kp.PublicKey()
			if err != nil {
				return fmt.Errorf("decoding session public key: %w", err)
			}
			lookup := func(keyID string) (ed25519.PublicKey, bool) {
				if keyID == kp.KeyID {
					return pub, true
				}
				return nil, false
			}

			result, err := chain.Verify(lookup)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newAuditExportCmd() *cobra.Command {
	var crit audit.FilterCriteria
	var status, out string
	cmd := &cobra.Command{
		Use:   "export <sessionId>",
		Short: "Write a session's full (or filtered) audit records as a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, _, err := openChain(args[0])
			if err != nil {
				return err
			}
			crit.Status = audit.ResultStatus(status)
			recs, err := chain.Filter(crit)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(recs, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling records: %w", err)
			}
			if out == "" {
				_, err = os.Stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Printf("exported %d record(s) to %s\n", len(recs), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&crit.Tool, "tool", "", "filter by tool name")
	cmd.Flags().StringVar(&crit.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&status, "status", "", "filter by result status: success|error|blocked")
	cmd.Flags().StringVar(&crit.Since, "since", "", "ISO-8601 timestamp or relative duration like 24h")
	cmd.Flags().StringVar(&out, "out", "", "file to write to; defaults to stdout")
	return cmd
}

// --- policy --------------------------------------------------------------

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the active policy bundle",
	}
	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyTestCmd())
	return cmd
}

func openPolicyStore(cfg *config.Config, root string) (*policy.Store, error) {
	limiter := ratelimit.New(filepath.Join(root, cfg.RateLimit.DBPath))
	ledger := policy.NewWitnessLedger(filepath.Join(root, "witnesses.jsonl"), zap.NewNop())
	return policy.NewStore(filepath.Join(root, cfg.Storage.PolicyFile), limiter, ledger, zap.NewNop())
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved policy bundle and its entity id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := storageRoot(cfg)
			if err != nil {
				return err
			}
			store, err := openPolicyStore(cfg, root)
			if err != nil {
				return err
			}
			engine := store.Engine()
			return printJSON(struct {
				EntityID string        `json:"entityId"`
				Config   policy.Config `json:"config"`
			}{EntityID: engine.EntityID(), Config: engine.Config()})
		},
	}
}

func newPolicyTestCmd() *cobra.Command {
	var category, target string
	cmd := &cobra.Command{
		Use:   "test <tool>",
		Short: "Evaluate a hypothetical tool call against the active policy without writing an audit record or rate-limit usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := storageRoot(cfg)
			if err != nil {
				return err
			}
			store, err := openPolicyStore(cfg, root)
			if err != nil {
				return err
			}

			cls := classify.Classify(args[0], nil)
			cat := cls.Category
			if category != "" {
				cat = classify.Category(category)
			}
			tgt := cls.Targets.Primary
			if target != "" {
				tgt = target
			}

			eval, err := store.Engine().Evaluate(policy.EvalInput{
				Tool: args[0], Category: cat, Target: tgt,
			})
			if err != nil {
				return err
			}
			return printJSON(eval)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "override the classified category")
	cmd.Flags().StringVar(&target, "target", "", "override the classified target")
	return cmd
}

// --- session ---------------------------------------------------------------

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "List and operate on sessions",
	}
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionSuspendCmd())
	cmd.AddCommand(newSessionResumeCmd())
	return cmd
}

func openSuspendList(root string) (*suspend.List, error) {
	return suspend.Open(filepath.Join(root, "suspended.yaml"), zap.NewNop())
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known session and its suspension status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := storageRoot(cfg)
			if err != nil {
				return err
			}
			susp, err := openSuspendList(root)
			if err != nil {
				return err
			}
			reg := session.NewRegistry(filepath.Join(root, "sessions"), susp)
			summaries, err := reg.List()
			if err != nil {
				return err
			}
			return printJSON(summaries)
		},
	}
}

func newSessionSuspendCmd() *cobra.Command {
	var reason, by string
	cmd := &cobra.Command{
		Use:   "suspend <sessionId>",
		Short: "Suspend a session, denying every further tool call until resumed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := storageRoot(cfg)
			if err != nil {
				return err
			}
			susp, err := openSuspendList(root)
			if err != nil {
				return err
			}
			if err := susp.Suspend(args[0], reason, by); err != nil {
				return err
			}
			fmt.Printf("suspended %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why this session is being suspended")
	cmd.Flags().StringVar(&by, "by", "operator", "who is suspending this session")
	return cmd
}

func newSessionResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <sessionId>",
		Short: "Resume a suspended session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := storageRoot(cfg)
			if err != nil {
				return err
			}
			susp, err := openSuspendList(root)
			if err != nil {
				return err
			}
			if err := susp.Resume(args[0]); err != nil {
				return err
			}
			fmt.Printf("resumed %s\n", args[0])
			return nil
		},
	}
}

// --- serve -------------------------------------------------------------

// newServeCmd builds the full governance stack against the configured
// storage root and keeps it running: the policy/suspension file watcher
// stays active for hot reload, and, when liveFeed.enabled is set, a
// WebSocket hub broadcasts every event the facade emits to connected
// operators for the lifetime of the process. It holds no HTTP surface
// for PreCall/PostCall itself — those are a library call made in-process
// by the agent host embedding this facade; serve exists to keep that
// facade's background concerns (reload, live feed) alive for a host that
// wants them running as a sidecar rather than wired by hand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the governance facade with hot reload and the optional live feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := storageRoot(cfg)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("creating storage root %s: %w", root, err)
			}

			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer log.Sync()

			store, err := openPolicyStore(cfg, root)
			if err != nil {
				return fmt.Errorf("loading policy store: %w", err)
			}
			limiter := ratelimit.New(filepath.Join(root, cfg.RateLimit.DBPath))
			stream, err := eventstream.Open(filepath.Join(root, "events.jsonl"),
				eventstream.WithMinSeverity(eventstream.Severity(cfg.EventLog.MinSeverity)),
				eventstream.WithLogger(log))
			if err != nil {
				return fmt.Errorf("opening event stream: %w", err)
			}
			defer stream.Close()
			susp, err := openSuspendList(root)
			if err != nil {
				return err
			}

			var hub *livefeed.Hub
			if cfg.LiveFeed.Enabled {
				hub = livefeed.NewHub(log)
				stream.OnEvent(hub.Callback())
			}

			f, err := facade.New(facade.Config{
				Root: root, Policy: store, Limiter: limiter, Stream: stream, Suspended: susp,
				PolicyFileName: cfg.Storage.PolicyFile, Log: log,
			})
			if err != nil {
				return fmt.Errorf("starting facade: %w", err)
			}
			defer f.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if hub == nil {
				log.Info("serving with live feed disabled; policy and suspension hot reload are active")
				<-ctx.Done()
				return nil
			}

			mux := http.NewServeMux()
			mux.Handle("/feed", hub)
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `{"status":"ok"}`)
			})
			addr := fmt.Sprintf("%s:%d", cfg.LiveFeed.Host, cfg.LiveFeed.Port)
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				log.Info("live feed listening", zap.String("addr", addr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				log.Info("shutting down")
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("live feed server error: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
