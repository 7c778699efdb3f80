package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// A status string outside the known task states is never terminal: being
// terminal implies being one of the declared lifecycle constants.
func TestTaskStatus_UnknownNeverTerminal(t *testing.T) {
	known := map[TaskStatus]bool{
		TaskPending:             true,
		TaskRunning:             true,
		TaskCompleted:           true,
		TaskCompletedWithErrors: true,
		TaskFailed:              true,
	}

	properties := gopter.NewProperties(nil)

	properties.Property("unknown task status is not terminal", prop.ForAll(
		func(s string) bool {
			status := TaskStatus(s)
			if known[status] {
				return true
			}
			return !status.IsTerminal()
		},
		gen.AlphaString(),
	))

	properties.Property("unknown entity kind is not valid", prop.ForAll(
		func(s string) bool {
			kind := EntityKind(s)
			if kind == KindOrders || kind == KindProducts {
				return true
			}
			return !kind.IsValid()
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
