package channel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

type fakeMessage struct {
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "" }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestTopicLayout(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"location", topicLocation("j1", "u1"), "journeys/j1/location/u1"},
		{"location wildcard", topicLocations("j1"), "journeys/j1/location/+"},
		{"lifecycle", topicLifecycle("j1", "u1"), "journeys/j1/lifecycle/u1"},
		{"lifecycle wildcard", topicLifecycles("j1"), "journeys/j1/lifecycle/+"},
		{"events", topicEvents("j1"), "journeys/j1/events"},
		{"completed", topicCompleted("j1"), "journeys/j1/completed"},
		{"achievements", topicAchievements("j1", "u1"), "journeys/j1/achievements/u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestAllowLocationPublish_SuppressesBursts(t *testing.T) {
	c := &Client{publishGap: 3 * time.Second}

	assert.True(t, c.allowLocationPublish())
	assert.False(t, c.allowLocationPublish())

	c.lastLocPub = time.Now().Add(-4 * time.Second)
	assert.True(t, c.allowLocationPublish())
}

func TestHandleLocation_IgnoresOwnEcho(t *testing.T) {
	received := 0
	c := &Client{
		userID: "me",
		handlers: Handlers{
			OnPeerLocation: func(models.LocationUpdate) { received++ },
		},
	}

	own, err := json.Marshal(models.LocationUpdate{UserID: "me", Lat: 40.0})
	require.NoError(t, err)
	peer, err := json.Marshal(models.LocationUpdate{UserID: "other", Lat: 41.0})
	require.NoError(t, err)

	c.handleLocation(nil, fakeMessage{payload: own})
	c.handleLocation(nil, fakeMessage{payload: peer})
	assert.Equal(t, 1, received)
}

func TestHandleCompleted_ParsesAdminFlag(t *testing.T) {
	var got models.JourneyCompletion
	c := &Client{handlers: Handlers{
		OnJourneyCompleted: func(jc models.JourneyCompletion) { got = jc },
	}}

	payload, err := json.Marshal(models.JourneyCompletion{JourneyID: "j1", EndedByAdmin: true})
	require.NoError(t, err)
	c.handleCompleted(nil, fakeMessage{payload: payload})

	assert.Equal(t, "j1", got.JourneyID)
	assert.True(t, got.EndedByAdmin)
}

func TestHandleLocation_DropsMalformedPayload(t *testing.T) {
	received := 0
	c := &Client{handlers: Handlers{
		OnPeerLocation: func(models.LocationUpdate) { received++ },
	}}
	c.handleLocation(nil, fakeMessage{payload: []byte("{not json")})
	assert.Zero(t, received)
}
