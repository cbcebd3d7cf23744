package metrics

import (
	"time"

	"github.com/flecs-technologies/flecs-core/pkg/quest"
	"github.com/flecs-technologies/flecs-core/pkg/vault"
)

// Collector periodically samples the Vault and Quest Engine and publishes
// the results as gauges, mirroring the teacher's ticker-driven sampling
// loop (pkg/metrics/collector.go) adapted from cluster/Raft polling to
// instance/app/quest polling.
type Collector struct {
	vlt    *vault.Vault
	quests *quest.Registry
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over v and q.
func NewCollector(v *vault.Vault, q *quest.Registry) *Collector {
	return &Collector{vlt: v, quests: q, stopCh: make(chan struct{})}
}

// Start begins periodic sampling on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAppMetrics()
	c.collectInstanceMetrics()
	c.collectQuestMetrics()
}

func (c *Collector) collectAppMetrics() {
	guard := c.vlt.Reservation().ReserveApps(false).Grab()
	defer guard.Release()

	AppsTotal.Set(float64(len(guard.AppPouch().Gems())))
}

func (c *Collector) collectInstanceMetrics() {
	guard := c.vlt.Reservation().ReserveInstances(false).Grab()
	defer guard.Release()

	counts := make(map[string]int)
	for _, instance := range guard.InstancePouch().Gems() {
		counts[string(instance.Status)]++
	}
	for status, count := range counts {
		InstancesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectQuestMetrics() {
	counts := make(map[string]int)
	for _, q := range c.quests.List() {
		counts[string(q.Status)]++
	}
	for status, count := range counts {
		QuestsByStatus.WithLabelValues(status).Set(float64(count))
	}
}
