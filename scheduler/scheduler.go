package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"supplier_ingest/config"
)

// Runner performs one unattended site scrape
type Runner interface {
	RunSite(ctx context.Context) error
	Supplier() string
}

// LastRunStore reports when the last site scrape started
type LastRunStore interface {
	GetLastRunTime(supplier string) (time.Time, error)
}

type Scheduler struct {
	cfg    *config.Config
	runner Runner
	store  LastRunStore
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}

	mu      sync.Mutex
	running bool
}

func New(cfg *config.Config, runner Runner, store LastRunStore) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		store:  store,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.run(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		if s.due(time.Now()) {
			go s.run(ctx)
		}
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.run(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only serve metrics")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// TriggerNow runs a site scrape immediately unless one is in progress.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.acquire() {
		return fmt.Errorf("a scrape of %s is already running", s.runner.Supplier())
	}
	defer s.release()
	return s.runner.RunSite(ctx)
}

// due reports whether the last site scrape is older than one interval, so a
// restarted daemon catches up instead of waiting a full period.
func (s *Scheduler) due(now time.Time) bool {
	if s.store == nil || s.cfg.Scheduler.Interval <= 0 {
		return false
	}
	lastRun, err := s.store.GetLastRunTime(s.runner.Supplier())
	if err != nil {
		log.Printf("Error getting last run time for %s: %v", s.runner.Supplier(), err)
		return false
	}
	return lastRun.IsZero() || now.Sub(lastRun) >= s.cfg.Scheduler.Interval
}

func (s *Scheduler) run(ctx context.Context) {
	if !s.acquire() {
		log.Printf("Previous scrape of %s still running, skipping", s.runner.Supplier())
		return
	}
	defer s.release()

	if err := s.runner.RunSite(ctx); err != nil {
		log.Printf("Scheduled run error: %v", err)
	}
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
