// Package engine orchestrates the poll cycle: it runs every device
// poller on a bounded worker pool and feeds each completed result into
// persistence and change detection as it arrives.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/alarm"
	"github.com/martinsuchenak/switchwatch/internal/detector"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/poller"
	"github.com/martinsuchenak/switchwatch/internal/storage"
	"github.com/martinsuchenak/switchwatch/internal/worker"
)

// Engine owns the set of device pollers and drives poll cycles
type Engine struct {
	store   storage.Storage
	alarms  *alarm.Manager
	pollers []*poller.Poller
	pool    *worker.WorkerPool

	// busy guards against overlapping cycles: a tick that arrives while
	// the previous cycle is still running is skipped, not queued.
	busy atomic.Bool
}

// New creates an engine over the given pollers. The worker pool is
// started immediately.
func New(store storage.Storage, alarms *alarm.Manager, pollers []*poller.Poller, concurrency int) *Engine {
	pool := worker.NewWorkerPool(concurrency)
	pool.Start()
	return &Engine{
		store:   store,
		alarms:  alarms,
		pollers: pollers,
		pool:    pool,
	}
}

// Stop shuts down the worker pool and closes all poller connections
func (e *Engine) Stop() {
	e.pool.Stop()
	for _, p := range e.pollers {
		if err := p.Close(); err != nil {
			log.Warn("Closing poller failed", "device", p.Device().Name, "error", err)
		}
	}
}

// PollAll runs one poll cycle across all devices. Each result is
// persisted and change-detected inside the polling worker as soon as it
// completes, so one slow device never delays the others' detection.
// When the previous cycle is still running the call is skipped and
// returns nil.
func (e *Engine) PollAll() []model.PollResult {
	if !e.busy.CompareAndSwap(false, true) {
		log.Warn("Previous poll cycle still running, skipping this cycle")
		return nil
	}
	defer e.busy.Store(false)

	start := time.Now()
	resultCh := make(chan model.PollResult, len(e.pollers))
	var wg sync.WaitGroup

	for _, p := range e.pollers {
		p := p
		wg.Add(1)
		err := e.pool.Submit(worker.Job{
			ID: p.Device().Name,
			Handler: func(ctx context.Context) error {
				defer wg.Done()
				result := p.Poll()
				if err := e.processResult(p, result); err != nil {
					// One device's persistence failure never aborts the
					// cycle for the rest of the fleet.
					log.Error("Processing poll result failed",
						"device", p.Device().Name, "error", err)
					if result.Success {
						result.Success = false
						result.Error = err.Error()
					}
				}
				resultCh <- *result
				return nil
			},
		})
		if err != nil {
			wg.Done()
			log.Error("Submitting poll job failed", "device", p.Device().Name, "error", err)
			resultCh <- model.PollResult{
				DeviceName: p.Device().Name,
				DeviceIP:   p.Device().IPAddress,
				Error:      err.Error(),
			}
		}
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]model.PollResult, 0, len(e.pollers))
	for result := range resultCh {
		results = append(results, result)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	log.Info("Poll cycle complete", "devices", len(results),
		"succeeded", succeeded, "duration", time.Since(start).String())
	return results
}

// processResult updates device state and runs change detection for one
// completed poll. Snapshots, changes and the alarms they raise commit
// in a single transaction per device.
func (e *Engine) processResult(p *poller.Poller, result *model.PollResult) error {
	device := p.Device()
	now := time.Now()
	device.LastPollTime = &now

	if !result.Success {
		device.Status = model.DeviceUnreachable
		device.PollFailures++
		if err := e.store.UpsertDevice(device); err != nil {
			return fmt.Errorf("saving device state: %w", err)
		}
		return e.alarms.CheckDeviceReachability(device, false)
	}

	device.Status = model.DeviceOnline
	device.PollFailures = 0
	device.LastSuccessfulPoll = &now
	if result.DeviceInfo != nil {
		device.SystemDescription = result.DeviceInfo.SystemDescription
		device.SystemUptime = result.DeviceInfo.SystemUptime
		device.TotalPorts = result.DeviceInfo.TotalPorts
	}

	if err := e.alarms.CheckDeviceReachability(device, true); err != nil {
		return fmt.Errorf("resolving reachability alarms: %w", err)
	}

	return e.store.WithTx(func(s storage.Store) error {
		if err := s.UpsertDevice(device); err != nil {
			return fmt.Errorf("saving device state: %w", err)
		}
		snaps, err := s.GetPortSnapshots(device.Name)
		if err != nil {
			return fmt.Errorf("loading snapshots: %w", err)
		}
		det := detector.New(s, e.alarms.WithStore(s), detector.Options{
			FiberPortThreshold: p.Decoder().FiberPortThreshold(),
		})
		if _, err := det.DetectDevice(device, result.Ports, snaps); err != nil {
			return fmt.Errorf("detecting changes: %w", err)
		}
		return nil
	})
}
