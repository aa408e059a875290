package types

import "strings"

// Dependency is a bit set describing which parts of the evaluation context an
// expression's result depends on. Dependencies must be conservative: an
// expression may report a dependency it does not have, never the reverse.
type Dependency int

const (
	NoDependency    Dependency = 0
	ContextSet      Dependency = 1 << 0
	ContextItem     Dependency = 1 << 1
	LocalVars       Dependency = 1 << 2
	ContextVars     Dependency = 1 << 3
	ContextPosition Dependency = 1 << 4

	// DefaultDependencies is used when nothing better is known.
	DefaultDependencies = ContextSet | ContextItem
	// Vars combines both kinds of variable dependency.
	Vars = LocalVars | ContextVars
)

// DependsOn reports whether d includes any flag of other.
func (d Dependency) DependsOn(other Dependency) bool {
	return d&other != 0
}

// DependsOnVar reports whether d includes a variable dependency.
func (d Dependency) DependsOnVar() bool {
	return d&Vars != 0
}

func (d Dependency) String() string {
	if d == NoDependency {
		return "NO_DEPENDENCY"
	}
	var names []string
	for _, f := range []struct {
		flag Dependency
		name string
	}{
		{ContextSet, "CONTEXT_SET"},
		{ContextItem, "CONTEXT_ITEM"},
		{LocalVars, "LOCAL_VARS"},
		{ContextVars, "CONTEXT_VARS"},
		{ContextPosition, "CONTEXT_POSITION"},
	} {
		if d&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, " | ")
}
