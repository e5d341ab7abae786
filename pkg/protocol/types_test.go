package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityIntersectOnlyBothSides(t *testing.T) {
	server := ServerCapabilities{
		Tools:     &ToolsCapability{ListChanged: true},
		Resources: &ResourcesCapability{Subscribe: true},
	}
	client := ClientCapabilities{
		Roots: &RootsCapability{ListChanged: true},
	}

	n := server.Intersect(client)
	assert.True(t, n.Tools)
	assert.True(t, n.ToolsListChanged)
	assert.True(t, n.Resources)
	assert.True(t, n.ResourcesSubscribe)
	assert.False(t, n.ResourcesListChanged, "server didn't advertise resources list_changed")
	assert.True(t, n.Roots)
	assert.False(t, n.Prompts, "neither side advertised prompts")
	assert.False(t, n.Sampling, "client didn't advertise sampling")
}

func TestNegotiatedSupports(t *testing.T) {
	n := NegotiatedCapabilities{Tools: true, Prompts: false}
	assert.True(t, n.Supports(MethodToolsList))
	assert.True(t, n.Supports(MethodToolsCall))
	assert.False(t, n.Supports(MethodPromptsList))
	assert.True(t, n.Supports(MethodPing), "methods with no associated capability always supported")
}
