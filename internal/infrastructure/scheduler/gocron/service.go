package timescheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/taphub/taphubd/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) ScheduleTaskRecurring(interval int64, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %d", interval)
	}

	_, err := s.scheduler.Every(int(interval)).Seconds().Do(task)
	return err
}

func (s *service) ScheduleTaskOnce(at int64, task func()) error {
	delay := at - time.Now().Unix()
	if delay < 0 {
		return fmt.Errorf("cannot schedule task in the past")
	}
	// gocron rejects zero intervals
	if delay == 0 {
		delay = 1
	}

	_, err := s.scheduler.Every(int(delay)).Seconds().WaitForSchedule().LimitRunsTo(1).Do(task)
	return err
}
