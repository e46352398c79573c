package store

import "time"

type Pipeline struct {
	PipelineID  int64  `json:"pipeline_id" param:"pipeline_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// Job definition YAML
	Definition string `json:"definition"`
	// Pipeline schedule in cron syntax
	Schedule *string `json:"schedule"`
	// Ref for scheduled runs
	ScheduleRef *string `json:"schedule_ref"`
	// Scheduled job ID
	ScheduleJobID *string   `json:"-"`
	CreatedOn     time.Time `json:"created_on"`
}
