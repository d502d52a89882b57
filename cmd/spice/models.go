package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-suggest/internal/cli"
	"github.com/Veraticus/spice-suggest/internal/config"
	"github.com/Veraticus/spice-suggest/internal/learner"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/registry"
	"github.com/Veraticus/spice-suggest/internal/scoring"
	"github.com/Veraticus/spice-suggest/internal/storage"
)

// withRegistry runs fn against a registry backed only by the database, so
// registry commands work while a server holds the artifact store.
func withRegistry(ctx context.Context, fn func(*config.Config, *storage.SQLiteStorage, *registry.Registry) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg, err := registry.New(ctx, store, nil)
	if err != nil {
		return fmt.Errorf("failed to load model registry: %w", err)
	}
	return fn(cfg, store, reg)
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage deployed models",
		Long: `Register models, move them between shadow, canary and live, and train new
ones from accepted feedback.`,
	}

	cmd.AddCommand(modelsListCmd())
	cmd.AddCommand(modelsRegisterCmd())
	cmd.AddCommand(modelsPhaseCmd())
	cmd.AddCommand(modelsDemoteCmd())
	cmd.AddCommand(modelsTrainCmd())
	return cmd
}

func modelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd.Context(), func(_ *config.Config, _ *storage.SQLiteStorage, reg *registry.Registry) error {
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderModels(reg.List()))
				return nil
			})
		},
	}
}

func modelsRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <model_id>",
		Short: "Register a model artifact in shadow phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("artifact")
			if uri == "" {
				uri = scoring.URIFor(args[0])
			}
			commit, _ := cmd.Flags().GetString("commit")
			notes, _ := cmd.Flags().GetString("notes")

			return withRegistry(cmd.Context(), func(_ *config.Config, _ *storage.SQLiteStorage, reg *registry.Registry) error {
				entry, err := reg.Register(cmd.Context(), model.RegistryEntry{
					ModelID:     args[0],
					ArtifactURI: uri,
					CommitSHA:   commit,
					Notes:       notes,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("registered %s in %s", entry.ModelID, entry.Phase)))
				return nil
			})
		},
	}

	cmd.Flags().String("artifact", "", "artifact URI (defaults to the model's slot in the artifact store)")
	cmd.Flags().String("commit", "", "commit SHA the model was built from")
	cmd.Flags().String("notes", "", "free-form notes")
	return cmd
}

func modelsPhaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phase <model_id> <shadow|canary|live>",
		Short: "Move a model to another phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase := model.ModelPhase(args[1])
			if !phase.Valid() {
				return fmt.Errorf("unknown phase %q", args[1])
			}
			return withRegistry(cmd.Context(), func(_ *config.Config, _ *storage.SQLiteStorage, reg *registry.Registry) error {
				if err := reg.SetPhase(cmd.Context(), args[0], phase); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is now %s", args[0], phase)))
				return nil
			})
		},
	}
}

func modelsDemoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demote <model_id>",
		Short: "Move a model back to shadow",
		Long: `Move a model back to shadow phase. Demote the live model before promoting
another one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(_ *config.Config, _ *storage.SQLiteStorage, reg *registry.Registry) error {
				if err := reg.Demote(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s demoted to %s", args[0], model.PhaseShadow)))
				return nil
			})
		},
	}
}

func modelsTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train <model_id>",
		Short: "Train a model from every accepted suggestion",
		Long: `Train a fresh model on all accepted feedback and register it in shadow
phase. Retraining an existing model ID replaces its artifact and keeps its
phase.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.learner.Bootstrap(cmd.Context(), args[0], func(epochs int) func() {
				return cli.Ticker(cli.NewProgressBar(os.Stderr, epochs, "Training "+args[0]+"..."))
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s trained (%s), phase %s", entry.ModelID, entry.Notes, entry.Phase)))
			return nil
		},
	}
}

func promoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Promote merchant statistics to category hints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			// Promotion reads and writes statistics only.
			l := learner.New(store, nil, nil, nil, learner.Config{
				MinSupport: cfg.Learner.Promotion.MinSupport,
				MinShare:   cfg.Learner.Promotion.MinShare,
			})
			summary, err := l.Promote(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(summary.Promoted))
			for i, h := range summary.Promoted {
				rows[i] = []string{h.Merchant, h.Category, fmt.Sprintf("%.0f%%", h.Confidence*100), strconv.Itoa(h.Support)}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Promoted %d hints from %d merchants", len(summary.Promoted), summary.MerchantsScanned)))
			if len(rows) > 0 {
				fmt.Fprintln(out, cli.RenderTable([]string{"MERCHANT", "CATEGORY", "SHARE", "SUPPORT"}, rows))
			}
			return nil
		},
	}
}

func tenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage per-tenant settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "canary <tenant_id> <pct|none>",
		Short: "Override the canary percentage for a tenant",
		Long: `Route pct percent of a tenant's auto-mode requests to the canary model.
"none" removes the override so the tenant follows router.default_canary_pct.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pct *int
			if args[1] != "none" {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 || n > 100 {
					return fmt.Errorf("pct must be an integer within [0,100] or none, got %q", args[1])
				}
				pct = &n
			}

			return withRegistry(cmd.Context(), func(cfg *config.Config, _ *storage.SQLiteStorage, reg *registry.Registry) error {
				if err := reg.SetTenantCanaryPct(cmd.Context(), args[0], pct); err != nil {
					return err
				}
				effective := reg.EffectiveCanaryPct(args[0], cfg.Router.DefaultCanaryPct)
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s canary at %d%%", args[0], effective)))
				return nil
			})
		},
	})
	return cmd
}
