package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinhphannn/eatnow-dispatch/config"
	"github.com/vinhphannn/eatnow-dispatch/core/queue"
	"github.com/vinhphannn/eatnow-dispatch/infra/logger"
	"github.com/vinhphannn/eatnow-dispatch/infra/redis"
)

var enqueueBoost bool

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <order-id>",
	Short: "Inject an order into the readiness queue",
	Args:  cobra.ExactArgs(1),
	RunE:  enqueueOrder,
}

func init() {
	enqueueCmd.Flags().BoolVar(&enqueueBoost, "boost", false, "enqueue ahead of currently waiting orders")
	rootCmd.AddCommand(enqueueCmd)
}

func enqueueOrder(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cli, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer cli.Close()

	q, err := redis.NewReadyQueue(cli, cfg.Redis.KeyPrefix)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	orderID := args[0]
	log := logger.New("enqueue-command")
	if enqueueBoost {
		boost := cfg.Dispatch.RequeueBoost()
		if err := q.EnqueueBoosted(ctx, orderID, queue.At(time.Now().Add(-boost))); err != nil {
			return err
		}
		log.Infof("order %s enqueued boosted", orderID)
		return nil
	}
	if err := q.Enqueue(ctx, orderID, queue.At(time.Now())); err != nil {
		return err
	}
	log.Infof("order %s enqueued", orderID)
	return nil
}
