package handler

type PipelineParams struct {
	PipelineID  int64  `json:"-"           param:"pipeline_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Definition  string `json:"definition"`
}

type ScheduleParams struct {
	PipelineID int64   `json:"-"        param:"pipeline_id"`
	Schedule   *string `json:"schedule"`
	Ref        *string `json:"ref"`
}

type TriggerParams struct {
	PipelineID   int64  `json:"-"             param:"pipeline_id"`
	Ref          string `json:"ref"`
	Tag          bool   `json:"tag"`
	TargetBranch string `json:"target_branch"`
}

type ListRunsParams struct {
	PipelineID int64 `param:"pipeline_id"`
	Page       int64 `                    query:"page"`
}

type RunParams struct {
	RunID string `param:"run_id"`
}

type JobLogParams struct {
	RunID   string `param:"run_id"`
	JobName string `param:"job_name"`
}

type ArtifactTokenParams struct {
	Token string `param:"token"`
}

type RunnerParams struct {
	RunnerID      int64    `json:"-"               param:"runner_id"`
	Name          string   `json:"name"`
	Tags          []string `json:"tags"`
	Hostname      string   `json:"hostname"`
	Username      string   `json:"username"`
	Workspace     string   `json:"workspace"`
	SSHPrivateKey string   `json:"ssh_private_key"`
}

type APIKeyParams struct {
	ID int64 `param:"id"`
}
