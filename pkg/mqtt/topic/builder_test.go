package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("msgrelay/v1")

	assert.Equal(t, "msgrelay/v1/outbound/mac-mini", b.Outbound("mac-mini"))
	assert.Equal(t, "msgrelay/v1/inbound/mac-mini", b.Inbound("mac-mini"))
	assert.Equal(t, "msgrelay/v1/inbound/+", b.InboundWildcard())
	assert.Equal(t, "msgrelay/v1/status/mac-mini", b.Status("mac-mini"))
	assert.Equal(t, "$share/sync/msgrelay/v1/inbound/+", Shared("sync", b.InboundWildcard()))
}
