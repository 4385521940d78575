/**
 * @description
 * This file implements the recurring allocation trigger: a ticker-driven loop
 * that runs one cycle (expiry sweep + allocation) per interval. The loop is
 * the only internal caller of RunCycle; operators can additionally trigger a
 * cycle through the internal HTTP endpoint.
 */

package app

import (
	"context"
	"log"
	"time"
)

// Scheduler drives allocation cycles on a fixed interval.
type Scheduler struct {
	svc          *Service
	interval     time.Duration
	cycleTimeout time.Duration
	stop         chan struct{}
	done         chan struct{}
}

// NewScheduler constructs a scheduler. cycleTimeout bounds a single cycle so
// a stuck collaborator cannot stall the loop past the next tick indefinitely.
func NewScheduler(svc *Service, interval, cycleTimeout time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if cycleTimeout <= 0 {
		cycleTimeout = interval * 5
	}
	return &Scheduler{
		svc:          svc,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the cycle loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
	log.Printf("level=info component=scheduler msg=\"allocation scheduler started\" interval=%s", s.interval)
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cycleTimeout)
			if _, err := s.svc.RunCycle(ctx, 0); err != nil {
				log.Printf("level=error component=scheduler msg=\"allocation cycle failed\" err=%v", err)
			}
			cancel()
		}
	}
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	log.Println("level=info component=scheduler msg=\"allocation scheduler stopped\"")
}
