package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/protomake/pulse/internal/client"
	"github.com/protomake/pulse/internal/notify"
	"github.com/protomake/pulse/internal/store"
)

type WatchCmd struct {
	Server  string `help:"Server URL" default:"http://localhost:8080" env:"PULSE_SERVER"`
	Project string `arg:"" help:"Project ID to watch"`
	User    string `help:"User ID to scope the channel to"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	c := newClient(w.Server, globals)

	fmt.Printf("Watching project %s (ctrl-c to stop)\n", w.Project)

	err := c.Stream(ctx, client.StreamOptions{
		ProjectID: w.Project,
		UserID:    w.User,
		OnConnect: func() {
			// Push delivery is best-effort: anything completed while we
			// were detached only shows up via this pull pass.
			w.printRecent(ctx, c)
		},
		OnEvent: func(event notify.Event) {
			fmt.Printf("%s  %-32s report=%s\n",
				time.Now().Format(time.RFC3339), event.Event, event.ReportID)
		},
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *WatchCmd) printRecent(ctx context.Context, c *client.Client) {
	jobs, err := c.ListJobs(ctx, w.Project, "")
	if err != nil {
		fmt.Printf("warning: failed to fetch job list: %v\n", err)
		return
	}

	pending := 0
	for _, job := range jobs {
		if !job.Status.Terminal() {
			pending++
		}
	}
	fmt.Printf("Connected: %d jobs, %d still running\n", len(jobs), pending)

	for _, job := range jobs {
		if job.Status == store.JobStatusFailed {
			fmt.Printf("%s  failed: %s\n", job.ID, job.Error)
		}
	}
}
