package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		name, project, kind, in, want string
	}{
		{"short topic", "cc-prod", "topics", "cc-order-events", "projects/cc-prod/topics/cc-order-events"},
		{"short subscription", "cc-prod", "subscriptions", " fulfil ", "projects/cc-prod/subscriptions/fulfil"},
		{"full name kept", "other", "topics", "projects/cc-prod/topics/x", "projects/cc-prod/topics/x"},
		{"empty name", "cc-prod", "topics", "", ""},
		{"missing project", "", "topics", "x", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResourceName(tc.project, tc.kind, tc.in))
		})
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("topic"))
	assert.Nil(t, c.OrdersSubscriber())
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(t.Context()))
}
