// Periodic removal of polling instances which stopped polling.

package main

import (
	"errors"
	"time"

	"github.com/adhocore/gronx"

	"github.com/cosmopolite/cosmopolite/server/broker"
	"github.com/cosmopolite/cosmopolite/server/logs"
)

const (
	defaultSweepSchedule = "* * * * *"
	defaultPollTimeout   = 60 * time.Second
)

type sweeper struct {
	broker   *broker.Broker
	schedule string
	// Polling instances idle for longer than timeout are deleted.
	timeout time.Duration
	stop    chan chan bool
}

func newSweeper(b *broker.Broker, schedule string, timeout time.Duration) (*sweeper, error) {
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	if !gronx.IsValid(schedule) {
		return nil, errors.New("sweeper: invalid sweep_schedule '" + schedule + "'")
	}
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	return &sweeper{
		broker:   b,
		schedule: schedule,
		timeout:  timeout,
		stop:     make(chan chan bool),
	}, nil
}

func (s *sweeper) run() {
	logs.Info.Printf("sweeper: started, schedule '%s', poll timeout %s", s.schedule, s.timeout)
	for {
		wait := time.Minute
		if next, err := gronx.NextTickAfter(s.schedule, time.Now(), false); err != nil {
			logs.Err.Println("sweeper: failed to compute next tick", err)
		} else {
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			s.sweep()
		case done := <-s.stop:
			timer.Stop()
			logs.Info.Println("sweeper: stopped")
			done <- true
			return
		}
	}
}

func (s *sweeper) sweep() {
	count, err := s.broker.Sweep(s.timeout)
	if err != nil {
		logs.Err.Println("sweeper: sweep failed", err)
	}
	if count > 0 {
		logs.Info.Println("sweeper: deleted stale instances:", count)
	}
}

// shutdown stops the sweeper and waits for it to exit.
func (s *sweeper) shutdown() {
	done := make(chan bool)
	s.stop <- done
	<-done
}
