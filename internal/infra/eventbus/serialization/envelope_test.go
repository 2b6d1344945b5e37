package serialization

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/term-closure/internal/domain/events"
	"github.com/ahrav/term-closure/internal/domain/reporting"
)

func TestEncodeDecode_BatchFinished(t *testing.T) {
	at := time.Date(2025, 12, 19, 15, 4, 5, 0, time.UTC)
	payload := reporting.BatchFinishedEvent{
		BatchID:    uuid.New(),
		TermID:     uuid.New(),
		Status:     reporting.BatchStatusCompleted,
		Completed:  8,
		Failed:     2,
		OccurredAt: at,
	}
	evt := events.NewDomainEvent(events.EventTypeBatchCompleted, payload.BatchID.String(), payload, at)
	evt.Headers = map[string]string{"trace": "abc"}

	data, err := EncodeEvent(evt)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, evt.Type, got.Type)
	assert.Equal(t, evt.Key, got.Key)
	assert.True(t, at.Equal(got.Timestamp))
	assert.Equal(t, evt.Headers, got.Headers)

	var decoded reporting.BatchFinishedEvent
	require.NoError(t, DecodePayload(got, &decoded))
	assert.Equal(t, payload.BatchID, decoded.BatchID)
	assert.Equal(t, payload.Status, decoded.Status)
	assert.Equal(t, 8, decoded.Completed)
	assert.Equal(t, 2, decoded.Failed)
	assert.True(t, at.Equal(decoded.OccurredAt))
}

func TestEncodeEvent_Errors(t *testing.T) {
	_, err := EncodeEvent(events.DomainEvent{})
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = EncodeEvent(events.DomainEvent{Type: events.EventTypeBatchStarted, Payload: make(chan int)})
	assert.Error(t, err)
}

func TestDecodeEvent_Errors(t *testing.T) {
	_, err := DecodeEvent([]byte{0xff, 0xff})
	assert.Error(t, err)

	_, err = DecodeEvent(nil)
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestEncodeDecode_NilPayload(t *testing.T) {
	data, err := EncodeEvent(events.NewDomainEvent(events.EventTypeTermClosed, "t", nil, time.Now()))
	require.NoError(t, err)
	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Nil(t, got.Payload)
	assert.Nil(t, got.Headers)
}
