package job

import (
	"context"
)

// PipelineJob re-runs the pipeline on a schedule so newly appended
// messages get picked up. Already-processed windows are skipped by the
// checkpoint, already-generated content by the cache.
type PipelineJob struct {
	run func(ctx context.Context) error
}

func NewPipelineJob(run func(ctx context.Context) error) *PipelineJob {
	return &PipelineJob{run: run}
}

func (j *PipelineJob) Name() string {
	return "pipeline_run"
}

func (j *PipelineJob) Run(ctx context.Context) error {
	if j.run == nil {
		return nil
	}
	return j.run(ctx)
}
