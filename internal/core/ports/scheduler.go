package ports

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleTaskRecurring runs task every interval seconds until Stop.
	ScheduleTaskRecurring(interval int64, task func()) error
	// ScheduleTaskOnce runs task once at unix time at.
	ScheduleTaskOnce(at int64, task func()) error
}
