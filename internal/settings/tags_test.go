package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTags_Empty(t *testing.T) {
	merged := MergeTags(nil)
	assert.Equal(t, IntrinsicTags, merged)
}

func TestMergeTags_KeepsExistingFirst(t *testing.T) {
	existing := []string{"!MyCustom", "!Sub"}
	merged := MergeTags(existing)

	// Existing entries keep their positions
	require.GreaterOrEqual(t, len(merged), len(existing))
	assert.Equal(t, "!MyCustom", merged[0])
	assert.Equal(t, "!Sub", merged[1])

	// Every intrinsic appears exactly once
	counts := make(map[string]int)
	for _, tag := range merged {
		counts[tag]++
	}
	for _, tag := range IntrinsicTags {
		assert.Equal(t, 1, counts[tag], tag)
	}
	assert.Equal(t, 1, counts["!MyCustom"])
}

func TestMergeTags_AppendsInDeclarationOrder(t *testing.T) {
	merged := MergeTags([]string{"!Ref"})

	// Missing intrinsics follow in declaration order after the existing entry
	assert.Equal(t, "!Ref", merged[0])
	want := make([]string, 0, len(IntrinsicTags)-1)
	for _, tag := range IntrinsicTags {
		if tag != "!Ref" {
			want = append(want, tag)
		}
	}
	assert.Equal(t, want, merged[1:])
}

func TestMergeTags_Idempotent(t *testing.T) {
	once := MergeTags([]string{"!Custom"})
	twice := MergeTags(once)
	assert.Equal(t, once, twice)
}

func TestSyncTags(t *testing.T) {
	st := &Settings{}
	st.Autocomplete.Enabled = true

	assert.True(t, SyncTags(st))
	assert.Equal(t, IntrinsicTags, st.Autocomplete.CustomTags)

	// Second sync is a no-op
	assert.False(t, SyncTags(st))
}

func TestSyncTags_AutocompleteDisabled(t *testing.T) {
	st := &Settings{}
	st.Autocomplete.Enabled = false

	assert.False(t, SyncTags(st))
	assert.Empty(t, st.Autocomplete.CustomTags)
}
