package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampDepth(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero defaults", 0, DefaultDepth},
		{"negative defaults", -3, DefaultDepth},
		{"in range", 3, 3},
		{"above cap", 9, MaxDepth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampDepth(tt.in))
		})
	}
}

func TestNodeFromProps(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	props := map[string]any{
		"id":           "42",
		"category":     "work",
		"topic":        "deploys",
		"content_head": "rollout notes",
		"concepts":     "staging, canary",
		"created_at":   created.Format(time.RFC3339),
	}

	gn := nodeFromProps(props)
	assert.Equal(t, "42", gn.ID)
	assert.Equal(t, "work", gn.Category)
	assert.Equal(t, "deploys", gn.Topic)
	assert.Equal(t, "rollout notes", gn.ContentHead)
	assert.Equal(t, "staging, canary", gn.Concepts)
	assert.True(t, created.Equal(gn.CreatedAt))
}

func TestNodeFromPropsToleratesMissingFields(t *testing.T) {
	gn := nodeFromProps(map[string]any{"id": "7"})
	assert.Equal(t, "7", gn.ID)
	assert.Empty(t, gn.Category)
	assert.True(t, gn.CreatedAt.IsZero())
}
