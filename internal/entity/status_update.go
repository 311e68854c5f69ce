package entity

// UpdateKind enumerates the statuses reported to the requester's callback.
type UpdateKind string

const (
	UpdateStarted        UpdateKind = "started"
	UpdatePlanning       UpdateKind = "planning"
	UpdateWriting        UpdateKind = "writing"
	UpdateTesting        UpdateKind = "testing"
	UpdatePROpen         UpdateKind = "pr_open"
	UpdateDeploying      UpdateKind = "deploying"
	UpdateDeployed       UpdateKind = "deployed"
	UpdateComplete       UpdateKind = "complete"
	UpdateFailed         UpdateKind = "failed"
	UpdatePausedApproval UpdateKind = "paused_approval"
)

// StatusUpdate is the JSON body posted to a job's callback URL.
type StatusUpdate struct {
	JobID   string     `json:"jobId"`
	Status  UpdateKind `json:"status"`
	Step    int        `json:"step,omitempty"`
	Message string     `json:"message,omitempty"`
	PRURL   string     `json:"prUrl,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func Started(jobID string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdateStarted}
}

func Planning(jobID string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdatePlanning}
}

func Writing(jobID string, step int, path string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdateWriting, Step: step, Message: path}
}

func Testing(jobID string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdateTesting}
}

func PROpen(jobID, url string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdatePROpen, PRURL: url}
}

func Deploying(jobID string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdateDeploying}
}

func Deployed(jobID string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdateDeployed}
}

func Complete(jobID, url string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdateComplete, PRURL: url}
}

func Failed(jobID, reason string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdateFailed, Error: reason}
}

func PausedApproval(jobID, reason string) StatusUpdate {
	return StatusUpdate{JobID: jobID, Status: UpdatePausedApproval, Message: reason}
}
