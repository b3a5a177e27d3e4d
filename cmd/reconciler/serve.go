package main

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/reconciler/internal/adminapi"
	"github.com/alexisbeaulieu97/reconciler/internal/approval"
	"github.com/alexisbeaulieu97/reconciler/internal/metrics"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

type serveOptions struct {
	Listen string
}

var serveCmdRunner = runServe

func newServeCmd(root *rootFlags) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the administrative HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmdRunner(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "Listen address (overrides [server].listen)")

	return cmd
}

func runServe(ctx context.Context, root *rootFlags, opts serveOptions) error {
	a, err := loadApp(root)
	if err != nil {
		return err
	}
	if strings.TrimSpace(a.settings.Server.JWTSecret) == "" {
		return configError(reconerrors.NewConfigurationError("server", "jwt_secret is required"))
	}
	// fail fast on a broken state or policy; requests reload them anyway
	_, policy, err := a.loadDocuments()
	if err != nil {
		return configError(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(registry)

	limiter := adminapi.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(a.settings.Server.RedisAddr); addr != "" {
		redisLimiter, err := adminapi.NewRedisRateLimiter(ctx, addr, a.settings.Server.RedisPassword, a.settings.Server.RedisDB, a.log)
		if err != nil {
			a.log.Error(err, "redis rate limiter unavailable; using in-memory limiter")
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	store := approval.NewStore()
	server := adminapi.New(adminapi.Options{
		Build: func(context.Context) (*adminapi.Engines, error) {
			s, err := a.session(nil)
			if err != nil {
				return nil, err
			}
			return &adminapi.Engines{Audit: s.audit, Changes: s.changes}, nil
		},
		JWTSecret: a.settings.Server.JWTSecret,
		Verifier:  approval.NewVerifier(a.settings.Approval.SigningSecret, policy.Approval.Tolerance.Duration),
		Decisions: store,
		Approvals: store.Statuses,
		Limiter:   limiter,
		RateLimit: a.settings.Server.RateLimit,
		Metrics:   a.metrics,
		Gatherer:  registry,
		Logger:    a.log,
	})
	defer server.Close()

	listen := a.settings.Server.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	if err := adminapi.ListenAndServe(ctx, listen, server, a.log); err != nil {
		return withCode(exitErrors, err)
	}
	return nil
}
