package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/protomake/pulse/internal/store"
)

// EchoGenerator is the development generator: it commits the job input back
// as the report payload. Useful for exercising the full notify path without
// a real model behind it.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, job *store.Job) (*Result, error) {
	reportID := uuid.Must(uuid.NewV7()).String()

	payload := job.Input
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	return &Result{
		Report: &store.Report{
			ID:        reportID,
			ProjectID: job.ProjectID,
			Kind:      job.Kind,
			Payload:   payload,
		},
		Output: json.RawMessage(fmt.Sprintf(`{"reportId":%q}`, reportID)),
	}, nil
}
