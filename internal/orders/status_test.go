package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusPending},
		{StatusPending, StatusCompleted},
		{StatusProcessing, StatusCompleted},
		{StatusCompleted, StatusRefundPending},
		{StatusRefundPending, StatusRefunded},
	}
	for _, p := range legal {
		assert.True(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}

	illegal := [][2]Status{
		{StatusPending, StatusRefunded},
		{StatusPending, StatusRefundPending},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusRefunded},
		{StatusRefundPending, StatusCompleted},
		{StatusRefunded, StatusCompleted},
		{StatusCompleted, StatusCompleted},
		{Status("shipped"), StatusCompleted},
	}
	for _, p := range illegal {
		assert.False(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}
}

func TestStatusPaid(t *testing.T) {
	assert.False(t, StatusPending.Paid())
	assert.False(t, StatusProcessing.Paid())
	assert.True(t, StatusCompleted.Paid())
	assert.True(t, StatusRefunded.Paid())
	assert.False(t, Status("confirmed").Valid())
}
