package mmxnode

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node"
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func runNode(c *cli.Context) error {
	tSettings := settings.NewSettings()
	logger := newLogger(tSettings, tSettings.ClientName)

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params := tSettings.ChainCfgParams
	logger.Infof("[run] starting on %s", params.Name)

	n, err := node.New(ctx, logger, tSettings, params, model.NewGenesisBlock(params))
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	if endpoint, ok := gocore.Config().Get("prometheusEndpoint"); ok && endpoint != "" {
		addr, _ := gocore.Config().Get("prometheusListenAddress", ":9090")

		mux := http.NewServeMux()
		mux.Handle(endpoint, promhttp.Handler())

		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		logger.Infof("[run] serving prometheus metrics on %s%s", addr, endpoint)

		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.NewServiceError("prometheus endpoint", err)
			}

			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return n.Start(gCtx)
	})

	err = g.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if stopErr := n.Stop(stopCtx); stopErr != nil {
		logger.Errorf("[run] stopping node: %v", stopErr)
	}

	logger.Infof("[run] stopped at %s", n.GetPeak())

	return err
}
