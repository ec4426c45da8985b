package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingOf(t *testing.T) {
	ring := ringOf([]string{"b:1", "a:1", "b:1"}, 16)
	assert.Equal(t, []string{"a:1", "b:1"}, ring.ListNodes())

	owner, ok := ring.GetNode("row")
	assert.True(t, ok)
	assert.Contains(t, []string{"a:1", "b:1"}, owner)
}

func TestZKMembership_NodesPath(t *testing.T) {
	m := &ZKMembership{rootPath: "/widerow", local: "n1:8080"}
	assert.Equal(t, "/widerow/nodes", m.nodesPath())
}
