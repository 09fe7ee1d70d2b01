package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sabt-export/core/pkg/roster"
)

func TestSharedSatisfiesBothShapes(t *testing.T) {
	r := roster.NewShared(map[int]map[int]struct{}{
		1403: {654321: {}},
	})

	schools, ok := r.Get(1403)
	assert.True(t, ok)
	_, present := schools[654321]
	assert.True(t, present)

	assert.True(t, r.IsSpecial(1403, "654321"))
	assert.False(t, r.IsSpecial(1403, "000001"))
	assert.False(t, r.IsSpecial(1402, "654321"))
}

func TestSharedSetOverridesYear(t *testing.T) {
	r := roster.NewShared(nil)
	r.Set(1403, map[int]struct{}{1: {}})
	assert.True(t, r.IsSpecial(1403, "000001"))
}
