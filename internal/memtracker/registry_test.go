package memtracker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"leaderqueue/internal/memtracker"
)

func TestFindOrCreateFirstCallerWins(t *testing.T) {
	reg := memtracker.NewRegistry()

	first := reg.FindOrCreate("global", 100, 200)
	second := reg.FindOrCreate("global", 999, 999)

	assert.Same(t, first, second)
	assert.Equal(t, int64(100), second.SoftLimit())
}

func TestRemove(t *testing.T) {
	reg := memtracker.NewRegistry()
	first := reg.FindOrCreate("global", 100, 200)
	reg.Remove("global")
	second := reg.FindOrCreate("global", 50, 60)

	assert.NotSame(t, first, second)
	assert.Equal(t, int64(50), second.SoftLimit())
}
