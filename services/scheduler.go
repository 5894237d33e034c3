// services/scheduler.go
package services

import (
	"log"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartExpirySweep runs the optional background sweep that materializes
// overdue timer rules. Expiry is otherwise evaluated lazily on reads and
// materialized by the next mutation; the sweep interval comes from
// EXPIRY_SWEEP_INTERVAL (e.g. "30s", "1m"). Unset or invalid means no sweep.
func (s *PlaythroughService) StartExpirySweep() {
	raw := os.Getenv("EXPIRY_SWEEP_INTERVAL")
	if raw == "" {
		log.Println("[Scheduler] EXPIRY_SWEEP_INTERVAL not set — lazy expiry only")
		return
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		log.Printf("[Scheduler] invalid EXPIRY_SWEEP_INTERVAL=%q — lazy expiry only", raw)
		return
	}

	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			swept, err := s.SweepExpired(time.Now().UTC())
			if err != nil {
				log.Printf("[Scheduler] expiry sweep failed: %v", err)
				return
			}
			if swept > 0 {
				log.Printf("✅ [Scheduler] materialized %d expired rule(s)", swept)
			}
		}),
	)
	log.Printf("✅ [Scheduler] expiry sweep running every %s", interval)
}
