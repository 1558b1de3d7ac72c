package enums

import "fmt"

// JobName identifies the handler a queued pipeline job is routed to.
type JobName string

const (
	JobGenerateDerivatives JobName = "generate_derivatives"
	JobPurgeObjects        JobName = "purge_objects"
)

var validJobNames = []JobName{
	JobGenerateDerivatives,
	JobPurgeObjects,
}

// IsValid reports whether the job name is routable.
func (n JobName) IsValid() bool {
	for _, candidate := range validJobNames {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseJobName converts raw input into a JobName.
func ParseJobName(value string) (JobName, error) {
	for _, candidate := range validJobNames {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job name %q", value)
}

// JobStatus is the lifecycle of a row in pipeline_jobs.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusDead    JobStatus = "dead"
)

func (s JobStatus) String() string {
	return string(s)
}
