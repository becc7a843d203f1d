package core

// adaptive.go resolves "changed_since: adaptive" against the state left by
// the previous run and produces the state for the next one.

// InputTableState remembers the last import date seen for a source table.
type InputTableState struct {
	Source         string `json:"source" yaml:"source"`
	LastImportDate string `json:"lastImportDate" yaml:"last_import_date"`
}

// InputTableStateList is the state carried between runs.
type InputTableStateList []InputTableState

// Get returns the state for source.
func (l InputTableStateList) Get(source string) (InputTableState, bool) {
	for _, st := range l {
		if st.Source == source {
			return st, true
		}
	}
	return InputTableState{}, false
}

// resolveAdaptive replaces an adaptive changed_since with the stored import
// date. Without stored state the table is loaded in full.
func resolveAdaptive(ref TableRef, states InputTableStateList) TableRef {
	if ref.Options.ChangedSince != ChangedSinceAdaptive {
		return ref
	}
	out := ref
	out.Options.ChangedSince = ""
	if st, ok := states.Get(ref.Source); ok {
		out.Options.ChangedSince = st.LastImportDate
	}
	return out
}

// stateFromResults builds the next state list from staged tables, keeping
// previous entries for tables that were not staged this time.
func stateFromResults(previous InputTableStateList, results []StagingResult) InputTableStateList {
	next := make(InputTableStateList, 0, len(previous)+len(results))
	seen := make(map[string]bool, len(results))

	for _, res := range results {
		if !res.Succeeded || seen[res.Source] {
			continue
		}
		seen[res.Source] = true
		next = append(next, InputTableState{
			Source:         res.Source,
			LastImportDate: res.Metadata.LastImportDate,
		})
	}
	for _, st := range previous {
		if !seen[st.Source] {
			next = append(next, st)
		}
	}
	return next
}
