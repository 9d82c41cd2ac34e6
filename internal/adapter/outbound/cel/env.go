package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/projectm/lms-session/internal/domain/activity"
)

// NewActivityEnvironment creates the CEL environment activity filters are
// compiled against. It declares:
//   - kind: interaction kind ("pointer", "key", "scroll", "touch", "click", "focus")
//   - target: element or input the interaction was aimed at, "" when unknown
//   - synthetic: true for program-generated interactions
//   - glob(pattern, s): shell-style match, e.g. glob("video-*", target)
func NewActivityEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("kind", cel.StringType),
		cel.Variable("target", cel.StringType),
		cel.Variable("synthetic", cel.BoolType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// buildActivation maps an event onto the environment's variables.
func buildActivation(ev activity.Event) map[string]any {
	return map[string]any{
		"kind":      string(ev.Kind),
		"target":    ev.Target,
		"synthetic": ev.Synthetic,
	}
}
