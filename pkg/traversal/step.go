package traversal

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// Transform maps a whole input stream to an output stream.
type Transform func(ctx context.Context, src Stream) Stream

// Factory produces the outputs for one parent value.
type Factory func(ctx context.Context, env *Env, parent any, args []any) Stream

// Step describes one operation for one input result type.
//
// Exactly one of Factory and Wrap is set. A Factory is called once per
// upstream item with that item's bare value. Wrap is called once per run at
// bind time, where it validates args, and returns a Transform over the
// whole upstream stream.
//
// When the pipeline tracks traversers:
//   - UsesTraverser and Passthrough steps see *Traverser items directly.
//     Passthrough steps re-emit the items they receive (filters, limits,
//     property writes), so the path is untouched.
//   - Other Wrap steps see bare values; each output is attributed to the
//     upstream traverser pulled most recently.
//   - Factory outputs extend their parent's path unless KeepPath is set.
type Step struct {
	Name          string
	Result        ResultType
	UsesTraverser bool
	Passthrough   bool
	KeepPath      bool

	// Validate checks args at bind time for Factory steps.
	Validate func(args []any) error

	Factory Factory
	Wrap    func(env *Env, args []any) (Transform, error)
}

var registry = map[ResultType]map[string]*Step{}

func register(input ResultType, steps ...*Step) {
	table := registry[input]
	if table == nil {
		table = make(map[string]*Step)
		registry[input] = table
	}
	for _, s := range steps {
		if (s.Factory == nil) == (s.Wrap == nil) {
			panic(fmt.Sprintf("traversal: step %s/%s must set exactly one of Factory and Wrap", input, s.Name))
		}
		if _, dup := table[s.Name]; dup {
			panic(fmt.Sprintf("traversal: step %s/%s registered twice", input, s.Name))
		}
		table[s.Name] = s
	}
}

// Lookup returns the step registered for name after a stage of type input.
func Lookup(input ResultType, name string) (*Step, bool) {
	s, ok := registry[input][name]
	return s, ok
}

// Operations lists the operation names available after a stage of type
// input, sorted.
func Operations(input ResultType) []string {
	names := make([]string, 0, len(registry[input]))
	for name := range registry[input] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	register(ResultGraph,
		vStep(),
		eStep(),
		addVStep(),
		addEStep(),
		dropGraphStep(),
		vHasLabelStep(),
	)

	register(ResultVertex, elementSteps(ResultVertex)...)
	register(ResultVertex,
		adjacentStep("out", ResultVertex, outDirs),
		adjacentStep("in", ResultVertex, inDirs),
		adjacentStep("both", ResultVertex, bothDirs),
		adjacentStep("outE", ResultEdge, outDirs),
		adjacentStep("inE", ResultEdge, inDirs),
		adjacentStep("bothE", ResultEdge, bothDirs),
	)

	register(ResultEdge, elementSteps(ResultEdge)...)
	register(ResultEdge,
		endpointStep("outV", endpointSource),
		endpointStep("inV", endpointTarget),
		endpointStep("bothV", endpointBoth),
		otherVStep(),
	)

	register(ResultValue, flowSteps(ResultValue)...)
}

// elementSteps are shared by vertex and edge stages.
func elementSteps(rt ResultType) []*Step {
	return slices.Concat(flowSteps(rt), []*Step{
		propertyStep(rt),
		hasStep(rt),
		dropElementStep(rt),
		idStep(),
		labelStep(rt),
		propertiesStep(rt),
		valueMapStep(rt),
	})
}

// flowSteps work on any stage.
func flowSteps(rt ResultType) []*Step {
	return []*Step{
		filterStep(rt),
		whereStep(rt),
		andStep(rt),
		orStep(rt),
		notStep(rt),
		limitStep(rt),
		tailStep(rt),
		pathStep(),
		asStep(rt),
		selectStep(),
		countStep(),
	}
}
