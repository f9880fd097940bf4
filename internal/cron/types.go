package cron

// CronSchedule describes when a job fires.
type CronSchedule struct {
	Kind    string  `json:"kind"`              // "at" | "every" | "cron"
	AtMs    *int64  `json:"atMs,omitempty"`    // one-time, epoch ms
	EveryMs *int64  `json:"everyMs,omitempty"` // interval ms
	Expr    *string `json:"expr,omitempty"`    // 5-field cron expression
	TZ      *string `json:"tz,omitempty"`      // IANA timezone for Expr
}

// CronPayload describes what happens when a job fires.
type CronPayload struct {
	Kind    string  `json:"kind"` // "agent_turn" | "system_event"
	Message string  `json:"message"`
	Deliver bool    `json:"deliver"`
	Channel *string `json:"channel,omitempty"`
	To      *string `json:"to,omitempty"`
}

// CronJobState is the mutable run bookkeeping persisted with each job.
type CronJobState struct {
	NextRunAtMs *int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs *int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  *string `json:"lastStatus,omitempty"` // "ok" | "error" | "skipped"
	LastError   *string `json:"lastError,omitempty"`
}

// CronJob is one scheduled task as persisted in jobs.json.
type CronJob struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Enabled        bool         `json:"enabled"`
	Schedule       CronSchedule `json:"schedule"`
	Payload        CronPayload  `json:"payload"`
	State          CronJobState `json:"state"`
	CreatedAtMs    int64        `json:"createdAtMs"`
	UpdatedAtMs    int64        `json:"updatedAtMs"`
	DeleteAfterRun bool         `json:"deleteAfterRun"`
}

// cronStore is the on-disk document. Unknown fields in existing files are
// tolerated by encoding/json and dropped on rewrite.
type cronStore struct {
	Version int       `json:"version"`
	Jobs    []CronJob `json:"jobs"`
}

// StatusInfo is the service snapshot returned by Status().
type StatusInfo struct {
	Enabled bool      `json:"enabled"`
	Jobs    []CronJob `json:"jobs"`
}
