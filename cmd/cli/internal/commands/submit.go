package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/protomake/pulse/internal/store"
)

type SubmitCmd struct {
	Server    string `help:"Server URL" default:"http://localhost:8080" env:"PULSE_SERVER"`
	Project   string `help:"Project ID" required:"" env:"PULSE_PROJECT"`
	User      string `help:"User ID of the project owner" required:"" env:"PULSE_USER"`
	Kind      string `arg:"" help:"Job kind (3d-components, assembly-parts, firmware-code, hardware-model, hardware-initial-generation)"`
	Input     string `help:"Job input as inline JSON"`
	InputFile string `help:"Path to a JSON file with the job input"`
	Wait      bool   `help:"Poll until the job reaches a terminal state" default:"false"`
}

func (s *SubmitCmd) Run(ctx context.Context, globals *Globals) error {
	input, err := s.loadInput()
	if err != nil {
		return err
	}

	c := newClient(s.Server, globals)

	jobID, err := c.CreateJob(ctx, &store.CreateJobRequest{
		UserID:    s.User,
		ProjectID: s.Project,
		Kind:      store.JobKind(s.Kind),
		Input:     input,
	})
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	fmt.Printf("Job submitted with ID: %s\n", jobID)

	if !s.Wait {
		return nil
	}

	status, err := c.PollUntilDone(ctx, jobID, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to poll job: %w", err)
	}
	return printStatus(status)
}

func (s *SubmitCmd) loadInput() (json.RawMessage, error) {
	if s.Input != "" && s.InputFile != "" {
		return nil, fmt.Errorf("use either --input or --input-file, not both")
	}

	var raw []byte
	switch {
	case s.Input != "":
		raw = []byte(s.Input)
	case s.InputFile != "":
		var err error
		raw, err = os.ReadFile(s.InputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	default:
		return nil, nil
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("job input is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
