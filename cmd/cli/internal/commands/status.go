package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/protomake/pulse/internal/client"
	"github.com/protomake/pulse/internal/store"
)

type StatusCmd struct {
	Server string `help:"Server URL" default:"http://localhost:8080" env:"PULSE_SERVER"`
	JobID  string `arg:"" help:"Job ID to check"`
	Wait   bool   `help:"Poll until the job reaches a terminal state" default:"false"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	c := newClient(s.Server, globals)

	var (
		status *client.JobStatus
		err    error
	)
	if s.Wait {
		status, err = c.PollUntilDone(ctx, s.JobID, 2*time.Second)
	} else {
		status, err = c.GetJobStatus(ctx, s.JobID)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch job status: %w", err)
	}
	return printStatus(status)
}

func printStatus(status *client.JobStatus) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

type ListCmd struct {
	Server  string `help:"Server URL" default:"http://localhost:8080" env:"PULSE_SERVER"`
	Project string `arg:"" help:"Project ID to list jobs for"`
	Status  string `help:"Filter by status (pending, processing, completed, failed)"`
}

func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	c := newClient(l.Server, globals)

	jobs, err := c.ListJobs(ctx, l.Project, store.JobStatus(l.Status))
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	for _, job := range jobs {
		finished := "-"
		if job.FinishedAt != nil {
			finished = job.FinishedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-12s %-28s %s\n", job.ID, job.Status, job.Kind, finished)
	}
	return nil
}
