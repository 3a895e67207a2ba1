package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/infrastructure/logger"
	"github.com/chatgw/gateway/internal/infrastructure/persistence"
	"github.com/chatgw/gateway/internal/infrastructure/store"
	"github.com/chatgw/gateway/internal/llm/prober"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

func newAccountsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "accounts",
		Short: "Manage vendor credentials",
	}
	root.AddCommand(newAccountsListCmd())
	root.AddCommand(newAccountsAddCmd())
	root.AddCommand(newAccountsRemoveCmd())
	root.AddCommand(newAccountsProbeCmd())
	return root
}

func openStoreForCLI() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	masterKey, err := resolveMasterKey(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("resolve master key: %w", err)
	}
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return store.New(db, masterKey, nil, log)
}

func newAccountsListCmd() *cobra.Command {
	var providerFlag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreForCLI()
			if err != nil {
				return err
			}
			defer st.Close()

			accounts, err := st.Accounts(context.Background(), model.ProviderID(providerFlag))
			if err != nil {
				return err
			}
			for _, a := range accounts {
				fmt.Printf("%-28s %-10s %-12s priority=%-3d used=%d/%d total=%d fails=%d\n",
					a.ID, a.ProviderID, a.Status, a.Priority, a.UsedToday, a.DailyQuota, a.RequestCount, a.FailCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerFlag, "provider", "", "restrict listing to one provider")
	return cmd
}

func newAccountsAddCmd() *cobra.Command {
	var providerFlag, labelFlag, credentialFlag string
	var priorityFlag, quotaFlag int
	var deleteSessionFlag bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := model.ProviderID(providerFlag)
			if !provider.Valid() {
				return fmt.Errorf("unknown provider %q", providerFlag)
			}
			cred, err := parseCredential(credentialFlag)
			if err != nil {
				return err
			}

			st, err := openStoreForCLI()
			if err != nil {
				return err
			}
			defer st.Close()

			acc, err := st.CreateAccount(context.Background(), model.Account{
				ProviderID:             provider,
				Label:                  labelFlag,
				Credential:             cred,
				Status:                 model.AccountStatusActive,
				Priority:               priorityFlag,
				DailyQuota:             quotaFlag,
				DeleteSessionAfterChat: deleteSessionFlag,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created account %s\n", acc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&providerFlag, "provider", "", "provider ID (deepseek, glm, kimi, minimax, qwen, qwenai, zai)")
	cmd.Flags().StringVar(&labelFlag, "label", "", "operator-facing nickname")
	cmd.Flags().StringVar(&credentialFlag, "credential", "", "comma-separated key=value pairs, e.g. token=abc,device_id=xyz")
	cmd.Flags().IntVar(&priorityFlag, "priority", 0, "informational ordering hint shown by accounts list; not used for account selection")
	cmd.Flags().IntVar(&quotaFlag, "daily-quota", 0, "0 = unlimited")
	cmd.Flags().BoolVar(&deleteSessionFlag, "delete-session-after-chat", false, "tear down the vendor's server-side session once each stream ends")
	cmd.MarkFlagRequired("provider")
	cmd.MarkFlagRequired("credential")
	return cmd
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <account-id>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreForCLI()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeleteAccount(context.Background(), args[0])
		},
	}
}

func newAccountsProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <provider>",
		Short: "Validate every account of a provider with a cheap round-trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := model.ProviderID(args[0])
			if !provider.Valid() {
				return fmt.Errorf("unknown provider %q", args[0])
			}

			st, err := openStoreForCLI()
			if err != nil {
				return err
			}
			defer st.Close()

			log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stdout"})
			if err != nil {
				return err
			}
			p, err := st.Provider(context.Background(), provider)
			if err != nil {
				return err
			}
			adapter, err := vendor.Create(provider, p.BaseURL, log)
			if err != nil {
				return fmt.Errorf("no adapter registered for %s: %w", provider, err)
			}

			accounts, err := st.Accounts(context.Background(), provider)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				ctx := context.Background()
				status := probeAccount(ctx, st, adapter, a)
				fmt.Printf("%-28s %s\n", a.ID, status)
			}
			return nil
		},
	}
}

// probeAccount validates an account's credential via prober.Probe and, if
// the adapter rotated it, persists the rotation so the next forwarder
// request picks it up. Persistence stays here rather than in the prober
// package since store.Store enforces single-owner-writer discipline and
// the CLI is that owner for this command.
func probeAccount(ctx context.Context, st *store.Store, adapter vendor.Adapter, a model.Account) string {
	res := prober.Probe(ctx, adapter, a)
	if !res.Valid {
		if res.Expired {
			return "expired: " + res.Err.Error()
		}
		return "failed: " + res.Err.Error()
	}
	if res.Err != nil {
		return "ok (refresh failed: " + res.Err.Error() + ")"
	}
	if res.Rotated {
		if err := st.UpdateCredential(ctx, a.ID, res.Credential); err != nil {
			return "ok (refresh not persisted: " + err.Error() + ")"
		}
		return "ok (credential rotated)"
	}
	return "ok"
}

func parseCredential(raw string) (model.Credential, error) {
	cred := make(model.Credential)
	if raw == "" {
		return cred, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid credential field %q, want key=value", pair)
		}
		cred[strings.TrimSpace(kv[0])] = kv[1]
	}
	return cred, nil
}
