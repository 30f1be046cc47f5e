package maintenance

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/knockme-app/knockme-backend/internal/session"
)

// Scheduler runs the periodic housekeeping jobs.
type Scheduler struct {
	registry    *session.Registry
	idleTimeout time.Duration
	cron        *cron.Cron
}

func NewScheduler(registry *session.Registry, idleTimeout time.Duration) *Scheduler {
	return &Scheduler{
		registry:    registry,
		idleTimeout: idleTimeout,
	}
}

// Start registers the cron jobs. Sessions whose stream subscribers are gone
// get swept every minute; leaking one leaks live Firestore listeners.
func (s *Scheduler) Start() {
	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc("0 * * * * *", func() {
		swept := s.registry.SweepIdle(s.idleTimeout)
		if swept > 0 {
			log.Info().Int("swept", swept).Int("live", s.registry.Len()).Msg("idle session sweep")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create sweep job")
		return
	}

	c.Start()
	s.cron = c
	log.Info().Dur("idleTimeout", s.idleTimeout).Msg("maintenance scheduler started")
}

// Stop halts the cron loop; running jobs finish first.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
