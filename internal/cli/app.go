package cli

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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgermail/backend/internal/bridge"
	"ledgermail/backend/internal/claim"
	"ledgermail/backend/internal/config"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/locator"
	"ledgermail/backend/internal/logger"
	"ledgermail/backend/internal/monitoring"
	"ledgermail/backend/internal/reconcile"
	"ledgermail/backend/internal/session"
	"ledgermail/backend/internal/settlement"
	"ledgermail/backend/internal/storage/sqlstore"
)

// globals 所有子命令共享的参数
type globals struct {
	identity string
	address  string
}

// NewRootCommand 创建 mailctl 根命令
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "mailctl",
		Short:         "Ledger-anchored mail client",
		Long:          "Send, read and settle ledger-anchored mail from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.identity, "identity", os.Getenv("LEDGERMAIL_IDENTITY"), "native identity of the session")
	root.PersistentFlags().StringVar(&g.address, "address", os.Getenv("LEDGERMAIL_ADDRESS"), "wallet address of the session")

	root.AddCommand(
		newSendCommand(g),
		newInboxCommand(g),
		newStatusCommand(g),
		newClaimCommand(g),
		newRelayCommand(g),
		newMigrateCommand(),
	)
	return root
}

// Execute 运行 mailctl
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openSession 加载配置并打开会话
func openSession(ctx context.Context, g *globals, metrics *monitoring.Metrics) (*session.Session, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	s, err := session.Open(ctx, cfg, session.Identity{Name: g.identity, Address: g.address}, log, metrics)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return s, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSendCommand(g *globals) *cobra.Command {
	var (
		to        []string
		subject   string
		body      string
		html      string
		inReplyTo string
		assets    []string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message, optionally carrying assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := settlement.SendRequest{
				Recipients: to,
				Subject:    subject,
				Body:       body,
				HTMLBody:   html,
				InReplyTo:  inReplyTo,
			}
			for _, raw := range assets {
				asset, err := ParseAsset(raw)
				if err != nil {
					return err
				}
				req.Assets = append(req.Assets, asset)
			}

			ctx, cancel := signalContext()
			defer cancel()

			s, log, err := openSession(ctx, g, nil)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			result, err := s.Send(ctx, req)
			if result != nil {
				if werr := writeJSON(cmd.OutOrStdout(), NewSendReport(result)); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipients (native identities or email addresses)")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&body, "body", "", "plain-text body")
	cmd.Flags().StringVar(&html, "html", "", "optional HTML body")
	cmd.Flags().StringVar(&inReplyTo, "in-reply-to", "", "id of the message being answered")
	cmd.Flags().StringArrayVar(&assets, "asset", nil, "asset to transfer, e.g. native:0.5 or erc20:<token>:<amount>")
	return cmd
}

func newInboxCommand(g *globals) *cobra.Command {
	var (
		bucket string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Show the unified mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, log, err := openSession(ctx, g, nil)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			show := func(box *reconcile.Mailbox) {
				entries := box.Entries
				if bucket != "" {
					entries = box.InBucket(domain.Bucket(bucket))
				}
				writeJSON(cmd.OutOrStdout(), NewMailboxReport(box, entries))
			}

			if !watch {
				box, err := s.Mailbox(ctx, reconcile.ModeLoud)
				if err != nil {
					return err
				}
				show(box)
				return nil
			}

			poller := s.NewPoller(show)
			poller.OnError(func(mode reconcile.Mode, err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "refresh (%s) failed: %v\n", mode, err)
			})
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "only show one bucket: inbox, sent, draft, spam, archive or trash")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling and print every snapshot")
	return cmd
}

func newStatusCommand(g *globals) *cobra.Command {
	var (
		read, spam, archived, deleted, draft bool
		addLabels, removeLabels              []string
	)

	cmd := &cobra.Command{
		Use:   "status <message-id>",
		Short: "Change the local status of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := domain.StatusPatch{AddLabels: addLabels, RemoveLabels: removeLabels}
			flags := cmd.Flags()
			if flags.Changed("read") {
				patch.Read = domain.Bool(read)
			}
			if flags.Changed("spam") {
				patch.Spam = domain.Bool(spam)
			}
			if flags.Changed("archived") {
				patch.Archived = domain.Bool(archived)
			}
			if flags.Changed("deleted") {
				patch.Deleted = domain.Bool(deleted)
			}
			if flags.Changed("draft") {
				patch.Draft = domain.Bool(draft)
			}

			ctx, cancel := signalContext()
			defer cancel()

			s, log, err := openSession(ctx, g, nil)
			if err != nil {
				return err
			}
			defer log.Sync()

			st := s.UpdateStatus(domain.BaseMessageID(args[0]), patch)
			purged := s.PurgeExpired()

			syncCtx, syncCancel := context.WithTimeout(ctx, 5*time.Second)
			synced := s.Statuses.WaitSynced(syncCtx, s.Identity.Name)
			syncCancel()
			s.Close()

			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"id":     args[0],
				"status": st,
				"purged": purged,
				"synced": synced,
			})
		},
	}
	cmd.Flags().BoolVar(&read, "read", false, "mark read or unread")
	cmd.Flags().BoolVar(&spam, "spam", false, "mark as spam")
	cmd.Flags().BoolVar(&archived, "archived", false, "archive")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "move to trash")
	cmd.Flags().BoolVar(&draft, "draft", false, "mark as draft")
	cmd.Flags().StringSliceVar(&addLabels, "label", nil, "labels to add")
	cmd.Flags().StringSliceVar(&removeLabels, "unlabel", nil, "labels to remove")
	return cmd
}

func newClaimCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Validate or redeem claim codes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <code>",
		Short: "Check whether a claim code is live",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, log, err := openSession(ctx, g, nil)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			v, err := s.ValidateClaim(ctx, joinArgs(args))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), NewValidationReport(v))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "redeem <code>",
		Short: "Redeem a claim code into the session wallet",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, log, err := openSession(ctx, g, nil)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			res, err := s.RedeemClaim(ctx, joinArgs(args))
			if err != nil {
				return err
			}
			if werr := writeJSON(cmd.OutOrStdout(), NewRedeemReport(res)); werr != nil {
				return werr
			}
			if !res.Succeeded() {
				return fmt.Errorf("claim not redeemed: %s", res.Outcome)
			}
			return nil
		},
	})
	return cmd
}

func newRelayCommand(g *globals) *cobra.Command {
	var (
		listen      string
		metricsAddr string
		ratePerS    float64
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Accept legacy mail over SMTP and index it for native recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			metrics := monitoring.NewMetrics()
			s, log, err := openSession(ctx, g, metrics)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			relay := bridge.NewRelay(listen, bridge.RelayOptions{
				Domain:   cfg.Mail.NativeDomain,
				Accept:   []string{cfg.Mail.NativeDomain},
				RatePerS: ratePerS,
			}, InboundHandler(s), log)

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				log.Info("relay listening", zap.String("address", listen))
				return relay.ListenAndServe()
			})

			var metricsServer *http.Server
			if metricsAddr != "" {
				metricsServer = &http.Server{
					Addr:              metricsAddr,
					Handler:           metrics.HTTPHandler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				group.Go(func() error {
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			}

			group.Go(func() error {
				<-groupCtx.Done()
				log.Info("shutting down relay")
				if metricsServer != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					metricsServer.Shutdown(shutdownCtx)
				}
				return relay.Close()
			})

			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":2525", "SMTP listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	cmd.Flags().Float64Var(&ratePerS, "rate", 10, "new SMTP sessions allowed per second")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the claim and store schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is not configured")
			}

			ctx, cancel := signalContext()
			defer cancel()

			if cfg.Database.Type == "postgres" {
				repo, err := claim.OpenPostgres(ctx, cfg.Database.DSN)
				if err != nil {
					return err
				}
				repo.Close()
				fmt.Fprintln(cmd.OutOrStdout(), "claim schema up to date")
			}

			store, err := sqlstore.NewStore(cfg.Database)
			if err != nil {
				return err
			}
			store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "store schema up to date")
			return nil
		},
	}
}

// joinArgs 领取码允许以 "123 456" 的形式分成两个参数输入
func joinArgs(args []string) string {
	return strings.Join(args, "")
}

// locatorHex 零值定位符不输出
func locatorHex(digest [32]byte) string {
	if digest == ([32]byte{}) {
		return ""
	}
	return locator.Hex(digest)
}
