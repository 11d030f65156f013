// Package grid is a small batch-scheduling backend reachable over gRPC. A
// job is one simulator invocation; the scheduler runs jobs on a bounded
// number of slots and reports their state to pollers.
package grid

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Job states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrInvalidJob  = errors.New("invalid job")
)

// Job is one unit of work. Dir must be on a filesystem shared by submitter
// and scheduler.
type Job struct {
	ID         string
	Executable string
	Args       []string
	Env        []string
	Dir        string
}

// JobStatus is the observable state of a job.
type JobStatus struct {
	ID             string
	State          string
	ExitCode       int
	ElapsedSeconds float64
	Error          string
}

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	return s.State == StateSucceeded || s.State == StateFailed
}

func (j Job) validate() error {
	if j.Executable == "" {
		return fmt.Errorf("%w: executable is required", ErrInvalidJob)
	}
	if j.Dir == "" {
		return fmt.Errorf("%w: dir is required", ErrInvalidJob)
	}
	return nil
}

func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (j Job) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":         j.ID,
		"executable": j.Executable,
		"args":       stringList(j.Args),
		"env":        stringList(j.Env),
		"dir":        j.Dir,
	})
}

func jobFromStruct(s *structpb.Struct) (Job, error) {
	if s == nil {
		return Job{}, fmt.Errorf("%w: empty request", ErrInvalidJob)
	}
	fields := s.GetFields()
	listField := func(name string) ([]string, error) {
		list := fields[name].GetListValue()
		if list == nil {
			return nil, nil
		}
		out := make([]string, 0, len(list.GetValues()))
		for _, v := range list.GetValues() {
			str, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, fmt.Errorf("%w: %s must hold strings", ErrInvalidJob, name)
			}
			out = append(out, str.StringValue)
		}
		return out, nil
	}

	args, err := listField("args")
	if err != nil {
		return Job{}, err
	}
	env, err := listField("env")
	if err != nil {
		return Job{}, err
	}
	job := Job{
		ID:         fields["id"].GetStringValue(),
		Executable: fields["executable"].GetStringValue(),
		Args:       args,
		Env:        env,
		Dir:        fields["dir"].GetStringValue(),
	}
	return job, job.validate()
}

func (s JobStatus) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":              s.ID,
		"state":           s.State,
		"exit_code":       s.ExitCode,
		"elapsed_seconds": s.ElapsedSeconds,
		"error":           s.Error,
	})
}

func statusFromStruct(s *structpb.Struct) JobStatus {
	fields := s.GetFields()
	return JobStatus{
		ID:             fields["id"].GetStringValue(),
		State:          fields["state"].GetStringValue(),
		ExitCode:       int(fields["exit_code"].GetNumberValue()),
		ElapsedSeconds: fields["elapsed_seconds"].GetNumberValue(),
		Error:          fields["error"].GetStringValue(),
	}
}
