// Package scheduler turns cron specs into task engine submissions.
//
// It only registers schedules and computes trigger times; every tick is
// handed to the task engine so job bodies never run on the cron goroutine.
package scheduler
