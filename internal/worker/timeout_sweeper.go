package worker

import (
	"log"
	"time"

	"github.com/signal-tracker/internal/service"
)

// TimeoutSweeper periodically marks unfilled sim_open trades whose entry
// timeout has passed as sim_skipped. It drives the one lifecycle rule the
// tracker owns itself; fills and exits come from the external evaluation
// process through the update endpoint.
type TimeoutSweeper struct {
	trades   *service.TradeService
	interval time.Duration
	stopChan chan struct{}
}

// NewTimeoutSweeper creates a new entry-timeout sweeper
func NewTimeoutSweeper(trades *service.TradeService, interval time.Duration) *TimeoutSweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &TimeoutSweeper{
		trades:   trades,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop
func (w *TimeoutSweeper) Start() {
	log.Printf("Timeout sweeper started with interval: %v", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stopChan:
			log.Println("Timeout sweeper stopped")
			return
		}
	}
}

// Stop stops the sweep loop
func (w *TimeoutSweeper) Stop() {
	close(w.stopChan)
}

func (w *TimeoutSweeper) sweep() {
	swept, err := w.trades.SweepExpired(time.Now())
	if err != nil {
		log.Printf("Timeout sweeper: sweep failed: %v", err)
		return
	}

	if swept > 0 {
		log.Printf("Timeout sweeper: marked %d trades sim_skipped", swept)
	}
}
