package recipes

import (
	"crochet/internal/mappings"
)

const (
	NamedToIntermediaryTask = "namedToIntermediaryMappings"
	IntermediaryToNamedTask = "intermediaryToNamedMappings"
)

// IntermediaryMappings emits the two bridge tables between the named and
// intermediary namespaces. official maps between named and obf in either
// direction; intermediary maps obf to intermediary.
func IntermediaryMappings(a *mappings.Algebra, official, intermediary mappings.Source) (toIntermediary, toNamed mappings.Result, err error) {
	from, _, err := official.Namespaces()
	if err != nil {
		return mappings.Result{}, mappings.Result{}, err
	}
	namedToObf := official
	if from == mappings.Obfuscated {
		namedToObf = mappings.Reverse(official)
	}

	toIntermediary, err = a.Emit(NamedToIntermediaryTask, mappings.Chain(namedToObf, intermediary))
	if err != nil {
		return mappings.Result{}, mappings.Result{}, err
	}
	toNamed, err = a.Emit(IntermediaryToNamedTask, mappings.Reverse(toIntermediary.Source(a.Format)))
	if err != nil {
		return mappings.Result{}, mappings.Result{}, err
	}
	return toIntermediary, toNamed, nil
}
