package metrics

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/conarylabs/conary/pkg/cas"
	"github.com/conarylabs/conary/pkg/storage"
)

// Collector periodically samples the metadata store and CAS for the gauge
// metrics that can't be updated inline from the operation that changed them
// (trove counts, store size).
type Collector struct {
	store  storage.Store
	cas    *cas.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store and cas.
func NewCollector(store storage.Store, casStore *cas.Store) *Collector {
	return &Collector{store: store, cas: casStore, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds.
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
	c.collectTroveMetrics()
	c.collectCASMetrics()
}

func (c *Collector) collectTroveMetrics() {
	troves, err := c.store.ListTroves(context.Background())
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, t := range troves {
		counts[t.Type]++
	}
	for troveType, count := range counts {
		TrovesTotal.WithLabelValues(troveType).Set(float64(count))
	}
}

func (c *Collector) collectCASMetrics() {
	if c.cas == nil {
		return
	}

	var objects, bytes int64
	err := filepath.WalkDir(c.cas.ObjectsDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		objects++
		if info, statErr := d.Info(); statErr == nil {
			bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return
	}

	CASObjectsTotal.Set(float64(objects))
	CASBytesTotal.Set(float64(bytes))
}
