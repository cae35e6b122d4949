package cli

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"estatecrm/internal/mqhandler"
	"estatecrm/pkg/mq"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newListenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Consume deal events from the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configDir)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.MQ.URL == "" {
				return fmt.Errorf("listen requires mq.url")
			}
			return runListen(a)
		},
	}
}

func runListen(a *app) error {
	log := a.logger
	ctx, stop := signalContext()
	defer stop()

	h := mqhandler.NewDealEventHandler(a.store, a.dedup, mqhandler.NewLogNotifier(log, time.Now), log)
	routes := h.Routes()
	keys := make([]string, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	counter := a.retryCounter()
	var wg sync.WaitGroup
	errCh := make(chan error, len(keys))
	for _, routingKey := range keys {
		queue := routingKey + ".q"
		log.Info("Initializing MQ consumer...",
			zap.String("queue", queue),
			zap.String("routing_key", routingKey),
		)
		consumer, err := mq.NewConsumer(a.cfg.MQ.URL, queue, routingKey, log,
			mq.WithPrefetch(a.cfg.Consumer.Prefetch),
			mq.WithDeadLetter(counter, a.cfg.Consumer.MaxRetries),
		)
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("consumer %s: %w", routingKey, err)
		}
		defer consumer.Close()
		consumer.SetHandler(routes[routingKey])

		wg.Add(1)
		go func(c *mq.Consumer, key string) {
			defer wg.Done()
			if err := c.StartConsuming(ctx); err != nil {
				log.Error("Consumer stopped with error", zap.String("routing_key", key), zap.Error(err))
				errCh <- err
			}
		}(consumer, routingKey)
	}

	log.Info("Deal event listeners running", zap.Int("consumers", len(keys)))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}
	log.Info("Stopping MQ consumers...")
	wg.Wait()
	return runErr
}

