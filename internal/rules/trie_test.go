package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultExcluded = map[string]struct{}{"cn": {}}

func TestInsertAndContainDescendants(t *testing.T) {
	tr := &Trie{}
	require.NoError(t, tr.Insert("example.com"))

	assert.True(t, tr.Contains("www.example.com", defaultExcluded))
	assert.True(t, tr.Contains("a.b.example.com", defaultExcluded))
}

func TestExactMatchOnFreshInsertion(t *testing.T) {
	tr := &Trie{}
	require.NoError(t, tr.Insert("example.com"))

	// The terminal marker is hit on the last label consumed, so an
	// exact, freshly-inserted domain matches itself, not only its
	// descendants.
	assert.True(t, tr.Contains("example.com", defaultExcluded))
}

func TestUnrelatedDomainNotMatched(t *testing.T) {
	tr := &Trie{}
	require.NoError(t, tr.Insert("example.com"))
	assert.False(t, tr.Contains("www.baidu.com", defaultExcluded))
}

func TestCNExclusionIsUnconditional(t *testing.T) {
	tr := &Trie{}
	require.NoError(t, tr.Insert("baidu.com"))
	assert.False(t, tr.Contains("www.baidu.com.cn", defaultExcluded))
}

func TestTopLevelInsertMatchesItself(t *testing.T) {
	tr := &Trie{}
	require.NoError(t, tr.Insert("com"))
	assert.True(t, tr.Contains("com", defaultExcluded))
	assert.False(t, tr.Contains("cn", defaultExcluded))
}

func TestTerminalAbsorbsFurtherInserts(t *testing.T) {
	tr := &Trie{}
	require.NoError(t, tr.Insert("example.com"))
	require.NoError(t, tr.Insert("sub.example.com"))

	assert.True(t, tr.Contains("anything.example.com", defaultExcluded))
}

func TestValidationRejectsBadDomains(t *testing.T) {
	tr := &Trie{}
	assert.Error(t, tr.Insert("-bad.com"))
	assert.Error(t, tr.Insert("bad-.com"))
	assert.Error(t, tr.Insert("bad.1"))
	assert.Error(t, tr.Insert(""))
	assert.Error(t, tr.Insert(strings.Repeat("a.", 140)+"com"))
}

func TestValidationAcceptsTrailingDot(t *testing.T) {
	tr := &Trie{}
	require.NoError(t, tr.Insert("example.com."))
	assert.True(t, tr.Contains("www.example.com", defaultExcluded))
}
