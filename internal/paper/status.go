package paper

import (
	"fmt"

	"github.com/pavelanni/papergen/internal/model"
)

// checkTransition enforces pending -> generating -> completed|failed. A paper
// may be generated again once a run has finished.
func checkTransition(from, to model.Status) error {
	switch to {
	case model.StatusPending:
		if from == "" {
			return nil
		}
	case model.StatusGenerating:
		if from != model.StatusGenerating {
			return nil
		}
	case model.StatusCompleted, model.StatusFailed:
		if from == model.StatusGenerating {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %q -> %q", from, to)
}
