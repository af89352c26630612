package pipemeta

// DeepMerge applies patch onto base, returning a new document. Maps merge
// recursively; scalars and lists in patch replace the base value. Neither
// input is mutated.
func DeepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bm, baseIsMap := out[k].(map[string]any)
		pm, patchIsMap := pv.(map[string]any)
		if baseIsMap && patchIsMap {
			out[k] = DeepMerge(bm, pm)
			continue
		}
		out[k] = pv
	}
	return out
}
