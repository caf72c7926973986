package redisx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelForIsRestaurantScoped(t *testing.T) {
	assert.Equal(t, "order_changes:r1", ChannelFor("r1"))
	assert.NotEqual(t, ChannelFor("r1"), ChannelFor("r10"))
}
