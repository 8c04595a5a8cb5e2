// Package kafkaconsumer applies map-change events from Kafka to the geometry
// cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/osm-context/internal/cache/keys"
	"github.com/mohammed-shakir/osm-context/internal/core/model"
	obs "github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/invalidation"
)

// Results reported on cache_invalidation_events_total.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultError     = "error"
)

type CellMapper interface {
	CellsForBBox(bbox model.BBox, res int) (model.Cells, error)
}

// Deleter removes cache keys by glob pattern, typically *redisstore.Client.
type Deleter interface {
	DelMatch(ctx context.Context, pattern string) (int, error)
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// Res is the H3 resolution geometry keys are written at.
	Res int
	// Margin grows every event area so queries centered just outside it are
	// evicted as well; set it to the largest query half-extent in meters.
	Margin float64
}

type Consumer struct {
	cfg      Config
	log      *slog.Logger
	store    Deleter
	mapper   CellMapper
	res      int
	margin   float64
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(cfg Config, store Deleter, mapper CellMapper, opts Options) *Consumer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Res <= 0 {
		opts.Res = 8
	}
	return &Consumer{
		cfg:    cfg,
		log:    opts.Logger,
		store:  store,
		mapper: mapper,
		res:    opts.Res,
		margin: opts.Margin,
		ms:     newMetricSet(opts.Register),
		ver:    newVersionDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

// Start joins the consumer group in the background. It returns nil without
// doing anything when the consumer is disabled.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("invalidation consumer disabled")
		return nil
	}
	if c.store == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (store/mapper)")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(true)
			c.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					c.assign[p] = struct{}{}
				}
			}
			c.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(false)
			c.assign = map[int32]struct{}{}
			c.assignMu.Unlock()
		},
		process: c.ProcessOne,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				c.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			c.log.Error("kafka group error", "err", err)
		}
	}()

	c.log.Info("invalidation consumer started",
		"topic", c.cfg.Topic, "group", c.cfg.GroupID, "brokers", c.cfg.Brokers)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.Info("invalidation consumer stopped")
}

// Readiness reports whether the consumer currently owns partitions.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// ProcessOne evicts the geometry cached for the area of one event. Malformed
// events are logged and dropped; only cache failures are returned so the
// message is retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		c.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.drop(msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.drop(msg, "validate", err)
		return nil
	}

	dkey := ev.DedupeKey()
	version := ev.TS.UnixNano()
	if c.ver.seen(dkey, version) {
		obs.IncInvalidation(ResultDuplicate)
		c.log.Debug("duplicate invalidation skipped", "layer", ev.Layer, "op", ev.Op)
		return nil
	}

	n, err := c.apply(ctx, ev)
	c.ms.proc.WithLabelValues(ev.Op).Observe(time.Since(start).Seconds())
	if err != nil {
		obs.IncInvalidation(ResultError)
		c.log.Error("invalidation failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"layer", ev.Layer, "err", err)
		return err
	}
	c.ver.record(dkey, version)
	c.ms.deleted.Add(float64(n))
	obs.IncInvalidation(ResultApplied)
	c.log.Debug("invalidated keys", "layer", ev.Layer, "op", ev.Op, "keys", n)
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) (int, error) {
	area, err := ev.Area()
	if err != nil {
		return 0, fmt.Errorf("event area: %w", err)
	}
	cells, err := c.mapper.CellsForBBox(invalidation.Grow(area, c.margin), c.res)
	if err != nil {
		return 0, fmt.Errorf("CellsForBBox: %w", err)
	}
	layer := ev.Layer
	if layer == invalidation.AllLayers {
		layer = ""
	}
	total := 0
	for _, cell := range cells {
		n, err := c.store.DelMatch(ctx, keys.GeometryCellPattern(layer, c.res, cell))
		total += n
		if err != nil {
			return total, fmt.Errorf("evict cell %s: %w", cell, err)
		}
	}
	return total, nil
}

func (c *Consumer) drop(msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncInvalidation(ResultInvalid)
	c.log.Warn("invalidation event dropped",
		"kind", kind,
		"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
		"err", err)
}
