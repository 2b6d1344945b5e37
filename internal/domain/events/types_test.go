package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolvePublishOptions(t *testing.T) {
	evt := NewDomainEvent(EventTypeBatchStarted, "batch-1", nil, time.Now())

	p := ResolvePublishOptions(evt)
	assert.Equal(t, "batch-1", p.Key)

	p = ResolvePublishOptions(evt, WithKey("term-1"), WithHeaders(map[string]string{"a": "b"}))
	assert.Equal(t, "term-1", p.Key)
	assert.Equal(t, "b", p.Headers["a"])
}
