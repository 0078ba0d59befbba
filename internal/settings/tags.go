package settings

// IntrinsicTags is the fixed list of CloudFormation short-form intrinsic
// function tags merged into the user's custom-tag list when autocomplete is
// enabled. Order matters: new entries are appended in this declaration order.
var IntrinsicTags = []string{
	"!Ref",
	"!GetAtt",
	"!Base64",
	"!Cidr",
	"!FindInMap",
	"!GetAZs",
	"!ImportValue",
	"!Join",
	"!Select",
	"!Split",
	"!Sub",
	"!Transform",
	"!And",
	"!Equals",
	"!If",
	"!Not",
	"!Or",
	"!Condition",
}

// MergeTags unions the fixed intrinsic tag list into existing: existing
// entries keep their order and come first, missing intrinsics follow in
// declaration order, duplicates are never introduced. Idempotent.
func MergeTags(existing []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(IntrinsicTags))
	merged := make([]string, 0, len(existing)+len(IntrinsicTags))
	for _, tag := range existing {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	for _, tag := range IntrinsicTags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	return merged
}

// SyncTags merges the intrinsic tags into the settings when autocomplete is
// enabled. Returns true when the list changed and needs persisting.
func SyncTags(st *Settings) bool {
	if !st.Autocomplete.Enabled {
		return false
	}
	merged := MergeTags(st.Autocomplete.CustomTags)
	if len(merged) == len(st.Autocomplete.CustomTags) {
		return false
	}
	st.Autocomplete.CustomTags = merged
	return true
}
