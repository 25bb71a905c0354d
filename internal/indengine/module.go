package indengine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/config"
	"github.com/hegdemanu/FPGA-RSI/internal/gateway"
	"github.com/hegdemanu/FPGA-RSI/internal/metrics"
)

// Module wires the service, its metrics and the HTTP server into an fx
// application. It expects a *config.Config and a *zap.Logger to be
// provided.
func Module() fx.Option {
	return fx.Module("indengine",
		fx.Provide(
			func() *prometheus.Registry {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				return reg
			},
			func(reg *prometheus.Registry) *metrics.Metrics { return metrics.NewMetrics(reg) },
			metrics.NewHealthStatus,
			New,
			func(cfg *config.Config, health *metrics.HealthStatus, reg *prometheus.Registry, svc *Service, log *zap.Logger) *metrics.Server {
				srv := metrics.NewServer(cfg.HTTP.Addr, health, reg, log.Named("http"))
				gateway.RegisterRoutes(srv, svc.Hub())
				svc.RegisterRoutes(srv)
				return srv
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, svc *Service, srv *metrics.Server, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					srv.Start()
					go func() {
						defer close(done)
						if err := svc.Run(ctx); err != nil {
							log.Error("service failed", zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
						log.Warn("service did not drain before shutdown deadline")
					}
					return srv.Stop(stopCtx)
				},
			})
		}),
	)
}
