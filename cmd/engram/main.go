// Command engram runs the hierarchical conversational memory engine:
// one-shot store/retrieve/erase operations plus a long-running serve mode
// with maintenance and metrics.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/longregen/engram/internal/adapters/capability"
	"github.com/longregen/engram/internal/adapters/postgres"
	redisadapter "github.com/longregen/engram/internal/adapters/redis"
	"github.com/longregen/engram/internal/adapters/tracing"
	"github.com/longregen/engram/internal/application/services"
	"github.com/longregen/engram/internal/application/usecases"
	"github.com/longregen/engram/internal/config"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
	"github.com/longregen/engram/internal/tiers/archive"
	"github.com/longregen/engram/internal/tiers/facts"
	"github.com/longregen/engram/internal/tiers/patterns"
	"github.com/longregen/engram/internal/tiers/shortterm"
	"github.com/longregen/engram/shared/id"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	root := &cobra.Command{
		Use:           "engram",
		Short:         "Hierarchical conversational memory engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(storeCmd(), retrieveCmd(), eraseCmd(), serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime bundles the engine with everything that needs closing.
type runtime struct {
	engine  *services.Engine
	cleanup []func()
}

func (r *runtime) close() {
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{}

	var provider ports.Capability
	if cfg.Capability.Mock {
		provider = capability.NewMock()
	} else {
		provider = capability.NewClient(capability.Config{
			BaseURL:    cfg.Capability.URL,
			APIKey:     cfg.Capability.APIKey,
			EmbedModel: cfg.Capability.EmbedModel,
			ChatModel:  cfg.Capability.ChatModel,
			Dimensions: cfg.Capability.Dimensions,
		})
	}

	var shortTermStore ports.ShortTermStore
	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		client := goredis.NewClient(opts)
		rt.cleanup = append(rt.cleanup, func() { client.Close() })
		shortTermStore = redisadapter.NewShortTermStore(client,
			redisadapter.WithCapacity(cfg.Engine.ShortTermCapacity),
			redisadapter.WithTTL(time.Duration(cfg.Engine.ShortTermTTLHours)*time.Hour),
		)
	} else {
		shortTermStore = shortterm.NewStore(
			shortterm.WithCapacity(cfg.Engine.ShortTermCapacity),
			shortterm.WithTTL(time.Duration(cfg.Engine.ShortTermTTLHours)*time.Hour),
		)
	}

	var archiveStore ports.ArchiveStore
	var factStore ports.FactStore
	if cfg.Database.PostgresURL != "" {
		pool, err := postgres.Connect(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, err
		}
		rt.cleanup = append(rt.cleanup, pool.Close)
		archiveStore = postgres.NewArchiveRepository(pool)
		factStore = postgres.NewFactRepository(pool, provider)
	} else {
		archiveStore = archive.NewStore()
		factStore = facts.NewStore(
			facts.WithEvictionPolicy(cfg.Engine.FactMinAccess, time.Duration(cfg.Engine.FactTTLDays)*24*time.Hour),
			facts.WithEmbedder(provider),
		)
	}

	patternStore := patterns.NewStore(patterns.WithEmbedder(provider))
	rt.cleanup = append(rt.cleanup, patternStore.Close)

	ids := id.Generator{}
	detector := patterns.NewDetector(provider, ids, patternStore)
	consolidate := usecases.NewConsolidateMessage(provider, factStore, ids, detector)
	supervisor := services.NewSupervisor(time.Duration(cfg.Engine.TaskDeadlineMinutes) * time.Minute)

	rt.engine = services.NewEngine(services.Deps{
		ShortTerm:   shortTermStore,
		Facts:       factStore,
		Archive:     archiveStore,
		Patterns:    patternStore,
		IDs:         ids,
		Consolidate: consolidate,
		Supervisor:  supervisor,
		Capability:  provider,
	})
	return rt, nil
}

func withRuntime(fn func(ctx context.Context, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(ctx, rt)
	}
}

func storeCmd() *cobra.Command {
	var user, conversation, role, content string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store one conversational turn",
		RunE: withRuntime(func(ctx context.Context, rt *runtime) error {
			msg, err := rt.engine.Store(ctx, user, conversation, models.MessageRole(role), content)
			if err != nil {
				return err
			}
			fmt.Printf("%s importance=%.2f\n", msg.ID, msg.Metadata.Importance)

			drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return rt.engine.Drain(drainCtx)
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID")
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation ID")
	cmd.Flags().StringVar(&role, "role", "user", "message role")
	cmd.Flags().StringVar(&content, "content", "", "message content")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("conversation")
	cmd.MarkFlagRequired("content")
	return cmd
}

func retrieveCmd() *cobra.Command {
	var user, conversation, query string
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve memory context for a query",
		RunE: withRuntime(func(ctx context.Context, rt *runtime) error {
			memCtx, err := rt.engine.Retrieve(ctx, user, conversation, query)
			if err != nil {
				return err
			}
			fmt.Print(memCtx.Render())
			fmt.Printf("[plan=%s confidence=%.2f tokens=%d latency=%dms",
				memCtx.Plan.Type, memCtx.Plan.Confidence, memCtx.EstimatedTokens, memCtx.RetrievalLatencyMS)
			if len(memCtx.DegradedTiers) > 0 {
				fmt.Printf(" degraded=%v", memCtx.DegradedTiers)
			}
			fmt.Println("]")
			return nil
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID")
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation ID")
	cmd.Flags().StringVar(&query, "query", "", "query text")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("conversation")
	cmd.MarkFlagRequired("query")
	return cmd
}

func eraseCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase every trace of a user from all tiers",
		RunE: withRuntime(func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.EraseUser(ctx, user); err != nil {
				return err
			}
			fmt.Println("erased", user)
			return nil
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID")
	cmd.MarkFlagRequired("user")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run maintenance and metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			shutdownTracing, err := tracing.Init("engram")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			if cfg.Metrics.Addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Printf("warning: metrics listener: %v", err)
					}
				}()
				defer srv.Close()
				log.Printf("info: metrics on %s/metrics", cfg.Metrics.Addr)
			}

			interval := time.Duration(cfg.Engine.MaintenanceMinutes) * time.Minute
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			log.Printf("info: maintenance every %s", interval)

			for {
				select {
				case <-ctx.Done():
					log.Println("info: shutting down")
					drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					if err := rt.engine.Drain(drainCtx); err != nil {
						log.Printf("warning: drain: %v", err)
					}
					return shutdownTracing(context.Background())
				case <-ticker.C:
					if err := rt.engine.Maintain(ctx); err != nil {
						log.Printf("warning: maintenance: %v", err)
					}
				}
			}
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Database.PostgresURL == "" {
				return fmt.Errorf("ENGRAM_POSTGRES_URL is not set")
			}

			ctx := cmd.Context()
			pool, err := postgres.Connect(ctx, cfg.Database.PostgresURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			dim := cfg.Capability.Dimensions
			if cfg.Capability.Mock {
				dim = capability.MockDimensions
			}
			if err := postgres.Migrate(ctx, pool, dim); err != nil {
				return err
			}
			fmt.Println("schema ready")
			return nil
		},
	}
}
