package core

import "time"

// JobKind distinguishes the two batch jobs of a plan.
type JobKind string

const (
	JobKindClone JobKind = "clone"
	JobKindCopy  JobKind = "copy"
)

// JobStatus mirrors the storage service job states.
type JobStatus string

const (
	JobWaiting    JobStatus = "waiting"
	JobProcessing JobStatus = "processing"
	JobSuccess    JobStatus = "success"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transitions will happen.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobError
}

// TableJobResult is one item of a batch job's result.
type TableJobResult struct {
	Destination string
	Succeeded   bool
	Message     string
}

// JobOutcome is the terminal state of a batch job as reported by the service.
type JobOutcome struct {
	Status  JobStatus
	Message string
	Tables  []TableJobResult
}

// LoadJob is one submitted batch job.
type LoadJob struct {
	ID           string
	Kind         JobKind
	Instructions []LoadInstruction
	Outcome      JobOutcome
	SubmittedAt  time.Time
	FinishedAt   time.Time
}

// Tables returns the source tables the job covers.
func (j *LoadJob) Tables() []string {
	tables := make([]string, len(j.Instructions))
	for i, in := range j.Instructions {
		tables[i] = in.Source
	}
	return tables
}

// tableResult finds the per-item result for destination, if the service reported one.
func (j *LoadJob) tableResult(destination string) (TableJobResult, bool) {
	for _, r := range j.Outcome.Tables {
		if r.Destination == destination {
			return r, true
		}
	}
	return TableJobResult{}, false
}

// LoadQueue records the jobs of one execution in submission order.
type LoadQueue struct {
	jobs []*LoadJob
}

func (q *LoadQueue) add(job *LoadJob) {
	q.jobs = append(q.jobs, job)
}

// Jobs returns the submitted jobs in order.
func (q *LoadQueue) Jobs() []*LoadJob {
	return append([]*LoadJob(nil), q.jobs...)
}

// ByKind returns the job of the given kind, or nil.
func (q *LoadQueue) ByKind(kind JobKind) *LoadJob {
	for _, j := range q.jobs {
		if j.Kind == kind {
			return j
		}
	}
	return nil
}
