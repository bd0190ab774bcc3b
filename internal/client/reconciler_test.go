package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func seedCreation(t *testing.T, creations *CreationStore) *Creation {
	t.Helper()
	creation := &Creation{
		ID:   "C1",
		Mode: ModeHardware,
		Reports: map[string]json.RawMessage{
			"bom": json.RawMessage(`{"rev":1}`),
		},
		Status: GenerationStatus{IsGenerating: true},
	}
	creations.Put(creation)
	return creation
}

func TestReconcilerBindsProjectAndMerges(t *testing.T) {
	creations := NewCreationStore()
	seedCreation(t, creations)
	rec := NewReconciler(creations, nil, zerolog.Nop())

	rec.Apply("C1", Update{
		ProjectID: "P1",
		Reports: map[string]json.RawMessage{
			"schematic": json.RawMessage(`{"pins":4}`),
		},
	})

	got := creations.Get("C1")
	require.Equal(t, "P1", got.ProjectID)
	require.False(t, got.Status.IsGenerating)
	require.True(t, got.Status.ReportsGenerated)

	// Untouched keys survive the merge
	require.JSONEq(t, `{"rev":1}`, string(got.Reports["bom"]))
	require.JSONEq(t, `{"pins":4}`, string(got.Reports["schematic"]))
}

func TestReconcilerShallowReplacePerKey(t *testing.T) {
	creations := NewCreationStore()
	seedCreation(t, creations)
	rec := NewReconciler(creations, nil, zerolog.Nop())

	// A later write for the same key fully supersedes the earlier value,
	// no deep structural merge.
	rec.Apply("C1", Update{
		ProjectID: "P1",
		Reports: map[string]json.RawMessage{
			"bom": json.RawMessage(`{"parts":["r1"]}`),
		},
	})

	got := creations.Get("C1")
	require.JSONEq(t, `{"parts":["r1"]}`, string(got.Reports["bom"]))
}

func TestReconcilerContaminationGuard(t *testing.T) {
	creations := NewCreationStore()
	seedCreation(t, creations)
	rec := NewReconciler(creations, nil, zerolog.Nop())

	rec.Apply("C1", Update{ProjectID: "P1"})

	// An update carrying a different project must leave stored reports
	// untouched, never rebind
	rec.Apply("C1", Update{
		ProjectID: "P2",
		Reports: map[string]json.RawMessage{
			"bom": json.RawMessage(`{"poisoned":true}`),
		},
	})

	got := creations.Get("C1")
	require.Equal(t, "P1", got.ProjectID)
	require.JSONEq(t, `{"rev":1}`, string(got.Reports["bom"]))
}

func TestReconcilerDropsUnknownCreation(t *testing.T) {
	creations := NewCreationStore()
	rec := NewReconciler(creations, nil, zerolog.Nop())

	rec.Apply("C-ghost", Update{
		ProjectID: "P1",
		Reports:   map[string]json.RawMessage{"bom": json.RawMessage(`{}`)},
	})

	require.Nil(t, creations.Get("C-ghost"))
}

func TestReconcilerConcurrentFirstBindStaysConsistent(t *testing.T) {
	// Two racing updates for different projects against an unbound
	// creation: exactly one may bind, and the stored reports must belong
	// to whichever project won the bind, never a mix.
	for range 500 {
		creations := NewCreationStore()
		creations.Put(&Creation{ID: "C1", Mode: ModeHardware})
		rec := NewReconciler(creations, nil, zerolog.Nop())

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, projectID := range []string{"P1", "P2"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				rec.Apply("C1", Update{
					ProjectID: projectID,
					Reports: map[string]json.RawMessage{
						"bom": json.RawMessage(fmt.Sprintf(`{"from":%q}`, projectID)),
					},
				})
			}()
		}
		close(start)
		wg.Wait()

		got := creations.Get("C1")
		require.Contains(t, []string{"P1", "P2"}, got.ProjectID)
		require.JSONEq(t, fmt.Sprintf(`{"from":%q}`, got.ProjectID), string(got.Reports["bom"]))
	}
}

func TestReconcilerNotifiesWhenNotViewing(t *testing.T) {
	creations := NewCreationStore()
	seedCreation(t, creations)

	var notified []string
	rec := NewReconciler(creations, NotifierFunc(func(creationID string, _ Update) {
		notified = append(notified, creationID)
	}), zerolog.Nop())

	// Viewing C1: updates to it mutate the view silently
	rec.SetActive("C1")
	rec.Apply("C1", Update{ProjectID: "P1"})
	require.Empty(t, notified)

	// Viewing something else: the update still lands but the user gets a
	// passive notification instead of a view change under their cursor
	rec.SetActive("C2")
	rec.Apply("C1", Update{ProjectID: "P1"})
	require.Equal(t, []string{"C1"}, notified)

	got := creations.Get("C1")
	require.True(t, got.Status.ReportsGenerated)
}
