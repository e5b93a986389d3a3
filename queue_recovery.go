/*
Copyright 2024 Docbridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docbridge

import (
	"context"
	"sync"
	"time"

	"github.com/docbridge/docbridge/model"
	"github.com/sirupsen/logrus"
)

// StuckItemRecoveryProcessor periodically sweeps queue items left in
// processing by workers that died after claiming, and retrying items whose
// scheduled re-dispatch was lost. A stuck item is treated as a stage failure
// so it goes through the normal retry policy instead of getting a private
// recovery path.
type StuckItemRecoveryProcessor struct {
	docbridge      *Docbridge
	batchSize      int
	maxWorkers     int
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewStuckItemRecoveryProcessor(d *Docbridge) *StuckItemRecoveryProcessor {
	maxWorkers := 10

	return &StuckItemRecoveryProcessor{
		docbridge:      d,
		batchSize:      maxWorkers * 100,
		maxWorkers:     maxWorkers,
		pollInterval:   30 * time.Second,
		stuckThreshold: 1 * time.Hour,
		stopCh:         make(chan struct{}),
	}
}

func (p *StuckItemRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Stuck item recovery processor started")
}

func (p *StuckItemRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Stuck item recovery processor stopped")
}

func (p *StuckItemRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StuckItemRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stuck item recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Stuck item recovery processor stop signal received")
			return
		case <-ticker.C:
			p.recoverWithThreshold(ctx, p.stuckThreshold)
		}
	}
}

// RecoverStuckItems triggers an immediate sweep of stuck processing items
// using the provided threshold. This is exposed for the manual trigger API
// endpoint.
func (d *Docbridge) RecoverStuckItems(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold < 2*time.Minute {
		threshold = 2 * time.Minute
	}

	processor := NewStuckItemRecoveryProcessor(d)
	return processor.recoverWithThreshold(ctx, threshold), nil
}

func (p *StuckItemRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) int {
	stuckItems, err := p.docbridge.datasource.GetStuckQueueItems(ctx, threshold, p.batchSize)
	if err != nil {
		logrus.Errorf("failed to get stuck queue items: %v", err)
		return 0
	}

	if len(stuckItems) == 0 {
		return 0
	}

	logrus.Infof("Processing %d stuck queue items with %d workers (threshold=%v)", len(stuckItems), p.maxWorkers, threshold)

	sem := make(chan struct{}, p.maxWorkers)
	var batchWg sync.WaitGroup

	for _, item := range stuckItems {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(it *model.QueueItem) {
			defer batchWg.Done()
			defer func() { <-sem }()
			if err := p.processStuckItem(ctx, it); err != nil {
				logrus.Errorf("failed to recover stuck item %s: %v", it.ItemID, err)
			}
		}(item)
	}

	batchWg.Wait()
	return len(stuckItems)
}

func (p *StuckItemRecoveryProcessor) processStuckItem(ctx context.Context, item *model.QueueItem) error {
	recovered, err := p.docbridge.FailStageItem(ctx, item.ItemID, "stage worker lost before completing the item")
	if err != nil {
		return err
	}

	if recovered.Status == model.QueueStatusFailed {
		logrus.Warnf("Stuck item %s exceeded its retry budget during recovery, passport %s failed", item.ItemID, item.PassportID)
		return nil
	}

	logrus.Infof("Successfully rescheduled stuck item %s for stage %s", item.ItemID, item.StageName)
	return nil
}
