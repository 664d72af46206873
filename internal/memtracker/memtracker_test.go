package memtracker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"leaderqueue/internal/memtracker"
)

func TestReserveReleaseCascadesToParent(t *testing.T) {
	parent := memtracker.New(1000, 2000)
	child := memtracker.NewChild(500, 800, parent)

	child.Reserve(100)
	assert.Equal(t, int64(100), child.Consumption())
	assert.Equal(t, int64(100), parent.Consumption())

	child.Release(40)
	assert.Equal(t, int64(60), child.Consumption())
	assert.Equal(t, int64(60), parent.Consumption())
}

func TestAnySoftLimitExceeded(t *testing.T) {
	parent := memtracker.New(100, 1000)
	child := memtracker.NewChild(500, 800, parent)

	assert.False(t, child.AnySoftLimitExceeded())

	child.Reserve(150)
	assert.True(t, child.AnySoftLimitExceeded(), "parent soft limit exceeded should propagate")
}

func TestSpareSoftCapacityIsLocalOnly(t *testing.T) {
	parent := memtracker.New(10, 1000)
	child := memtracker.NewChild(500, 800, parent)

	child.Reserve(100)
	assert.Equal(t, int64(400), child.SpareSoftCapacity())
}

func TestWouldViolateHard(t *testing.T) {
	tr := memtracker.New(100, 200)
	tr.Reserve(150)
	assert.False(t, tr.WouldViolateHard(49))
	assert.True(t, tr.WouldViolateHard(51))
}
