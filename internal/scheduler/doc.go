// Package scheduler is the host-side trigger service plugins register
// recurring jobs with.
//
// It wraps robfig/cron: schedules are keyed by a stable name (registering the
// same name again replaces the previous schedule), each run gets a context
// bounded by the job timeout, and a job that is still running when its next
// tick fires is skipped. Job errors and panics are logged here and never
// reach the caller that registered the job.
package scheduler
