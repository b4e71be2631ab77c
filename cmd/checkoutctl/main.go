package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/di"
	"github.com/storefront/checkout/internal/platform/config"
	"github.com/storefront/checkout/internal/platform/observability"
	"github.com/storefront/checkout/internal/platform/secrets"
	"github.com/storefront/checkout/internal/repositories"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Operator tooling for the checkout service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file layered under the process environment")

	root.AddCommand(newSeedProductsCmd(flags))
	root.AddCommand(newReconcileCmd(flags))
	root.AddCommand(newReconcilePendingCmd(flags))
	return root
}

// runtime holds the store and services opened for one command invocation.
type runtime struct {
	logger    *zap.Logger
	fetcher   *secrets.Fetcher
	config    config.Config
	registry  repositories.Registry
	container *di.Container
}

func (r *runtime) Close() {
	if r.registry != nil {
		if err := r.registry.Close(context.Background()); err != nil {
			r.logger.Warn("order store close error", zap.Error(err))
		}
	}
	if r.fetcher != nil {
		_ = r.fetcher.Close()
	}
	_ = r.logger.Sync()
}

// openRuntime loads configuration the same way the API does and opens the order store. Services, which
// need payment credentials, are only built when withServices is set.
func openRuntime(ctx context.Context, flags *rootFlags, withServices bool) (*runtime, error) {
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("initialise logger: %w", err)
	}
	logger = logger.Named("checkoutctl")
	rt := &runtime{logger: logger}

	env, err := config.EnvironmentValues(config.WithEnvFile(flags.envFile))
	if err != nil {
		rt.Close()
		return nil, err
	}
	projectID := strings.TrimSpace(env["API_SECRET_DEFAULT_PROJECT_ID"])
	if projectID == "" {
		projectID = strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])
	}
	rt.fetcher, err = secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(projectID),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx,
		config.WithEnvFile(flags.envFile),
		config.WithSecretResolver(config.SecretResolverFunc(rt.fetcher.Resolve)),
	)
	if err != nil {
		rt.Close()
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("missing secrets %v: %w", missing.RedactedNames(), err)
		}
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	rt.config = cfg

	rt.registry, err = di.OpenRegistry(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if !withServices {
		return rt, nil
	}
	rt.container, err = di.NewContainer(ctx, cfg, rt.registry, di.WithLogger(logger))
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}
