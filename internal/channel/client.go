package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

// ErrChannelDown marks a publish attempted while the connection is down.
// Transient: the paho client reconnects on its own and the periodic
// reconciliation pull repairs anything missed meanwhile.
var ErrChannelDown = errors.New("realtime channel disconnected")

// DefaultPublishGap rate-limits outbound location updates.
const DefaultPublishGap = 3 * time.Second

const connectTimeout = 10 * time.Second

// Handlers receives inbound room traffic. All callbacks run on paho's
// router goroutine; the engine posts them into its mailbox.
type Handlers struct {
	OnPeerLocation     func(models.LocationUpdate)
	OnPeerLifecycle    func(models.LifecycleUpdate)
	OnJourneyEvent     func(models.RideEvent)
	OnJourneyCompleted func(models.JourneyCompletion)
	OnAchievement      func(models.AchievementUnlocked)

	// OnReconnect fires after a dropped connection is re-established and
	// the room is re-joined. The engine answers it with a full snapshot
	// pull because deltas missed while away cannot be trusted.
	OnReconnect func()
}

// Config configures the channel client.
type Config struct {
	BrokerURL  string
	UserID     string
	PublishGap time.Duration
}

// Client maintains the bidirectional connection to the coordination broker
// and the journey-scoped room subscriptions.
type Client struct {
	mqtt     mqtt.Client
	userID   string
	handlers Handlers

	mu            sync.Mutex
	journeyID     string
	connectedOnce bool
	lastLocPub    time.Time
	publishGap    time.Duration
}

// New builds a client. Connect must be called before Join.
func New(cfg Config, handlers Handlers) *Client {
	c := &Client{
		userID:     cfg.UserID,
		handlers:   handlers,
		publishGap: cfg.PublishGap,
	}
	if c.publishGap <= 0 {
		c.publishGap = DefaultPublishGap
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID("wayfarian-" + cfg.UserID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("Channel connection lost, reconnecting")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			c.onConnect()
		})

	c.mqtt = mqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	token := c.mqtt.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: connect timeout", ErrChannelDown)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelDown, err)
	}
	return nil
}

// Close leaves the room and disconnects.
func (c *Client) Close() {
	c.Leave()
	c.mqtt.Disconnect(250)
}

// Join subscribes to the journey-scoped room.
func (c *Client) Join(journeyID string) error {
	c.mu.Lock()
	c.journeyID = journeyID
	c.mu.Unlock()
	return c.subscribe(journeyID)
}

// Leave unsubscribes from the current room. Lifecycle/event traffic stops;
// the connection itself stays up.
func (c *Client) Leave() {
	c.mu.Lock()
	journeyID := c.journeyID
	c.journeyID = ""
	c.mu.Unlock()
	if journeyID == "" || !c.mqtt.IsConnected() {
		return
	}
	c.mqtt.Unsubscribe(
		topicLocations(journeyID),
		topicLifecycles(journeyID),
		topicEvents(journeyID),
		topicCompleted(journeyID),
		topicAchievements(journeyID, c.userID),
	)
}

// onConnect re-joins the room on every (re)connection. On a reconnect the
// engine is told to pull a full snapshot instead of trusting buffered
// deltas.
func (c *Client) onConnect() {
	c.mu.Lock()
	journeyID := c.journeyID
	reconnect := c.connectedOnce
	c.connectedOnce = true
	c.mu.Unlock()

	if journeyID != "" {
		if err := c.subscribe(journeyID); err != nil {
			log.WithError(err).Error("Room re-join failed")
			return
		}
	}
	if reconnect && c.handlers.OnReconnect != nil {
		c.handlers.OnReconnect()
	}
}

func (c *Client) subscribe(journeyID string) error {
	subs := map[string]mqtt.MessageHandler{
		topicLocations(journeyID):              c.handleLocation,
		topicLifecycles(journeyID):             c.handleLifecycle,
		topicEvents(journeyID):                 c.handleEvent,
		topicCompleted(journeyID):              c.handleCompleted,
		topicAchievements(journeyID, c.userID): c.handleAchievement,
	}
	for topic, handler := range subs {
		token := c.mqtt.Subscribe(topic, 0, handler)
		if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, ErrChannelDown)
		}
	}
	return nil
}

// PublishLocation publishes a location/stat delta, rate-limited to one per
// publish gap. Suppressed publishes return nil: location updates are
// best-effort, most-recent-wins.
func (c *Client) PublishLocation(u models.LocationUpdate) error {
	if !c.allowLocationPublish() {
		return nil
	}
	c.mu.Lock()
	journeyID := c.journeyID
	c.mu.Unlock()
	return c.publish(topicLocation(journeyID, c.userID), u, false)
}

// allowLocationPublish applies the outbound rate limit.
func (c *Client) allowLocationPublish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastLocPub) < c.publishGap {
		return false
	}
	c.lastLocPub = time.Now()
	return true
}

// PublishLifecycle publishes an instance transition. Never rate-limited.
func (c *Client) PublishLifecycle(u models.LifecycleUpdate) error {
	c.mu.Lock()
	journeyID := c.journeyID
	c.mu.Unlock()
	return c.publish(topicLifecycle(journeyID, c.userID), u, false)
}

// PublishEvent publishes a free-form ride event to the room.
func (c *Client) PublishEvent(ev models.RideEvent) error {
	c.mu.Lock()
	journeyID := c.journeyID
	c.mu.Unlock()
	return c.publish(topicEvents(journeyID), ev, false)
}

// PublishJourneyCompleted announces journey termination. Retained so late
// joiners see it immediately.
func (c *Client) PublishJourneyCompleted(jc models.JourneyCompletion) error {
	return c.publish(topicCompleted(jc.JourneyID), jc, true)
}

func (c *Client) publish(topic string, payload interface{}, retained bool) error {
	if topic == "" {
		return fmt.Errorf("%w: no room joined", ErrChannelDown)
	}
	if !c.mqtt.IsConnectionOpen() {
		return ErrChannelDown
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	token := c.mqtt.Publish(topic, 0, retained, data)
	if !token.WaitTimeout(connectTimeout) {
		return ErrChannelDown
	}
	return token.Error()
}

func (c *Client) handleLocation(_ mqtt.Client, msg mqtt.Message) {
	var u models.LocationUpdate
	if err := json.Unmarshal(msg.Payload(), &u); err != nil {
		log.WithError(err).Debug("Dropping malformed location payload")
		return
	}
	if u.UserID == c.userID {
		return // own echo
	}
	if c.handlers.OnPeerLocation != nil {
		c.handlers.OnPeerLocation(u)
	}
}

func (c *Client) handleLifecycle(_ mqtt.Client, msg mqtt.Message) {
	var u models.LifecycleUpdate
	if err := json.Unmarshal(msg.Payload(), &u); err != nil {
		return
	}
	if u.UserID == c.userID {
		return
	}
	if c.handlers.OnPeerLifecycle != nil {
		c.handlers.OnPeerLifecycle(u)
	}
}

func (c *Client) handleEvent(_ mqtt.Client, msg mqtt.Message) {
	var ev models.RideEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		return
	}
	if c.handlers.OnJourneyEvent != nil {
		c.handlers.OnJourneyEvent(ev)
	}
}

func (c *Client) handleCompleted(_ mqtt.Client, msg mqtt.Message) {
	var jc models.JourneyCompletion
	if err := json.Unmarshal(msg.Payload(), &jc); err != nil {
		return
	}
	if c.handlers.OnJourneyCompleted != nil {
		c.handlers.OnJourneyCompleted(jc)
	}
}

func (c *Client) handleAchievement(_ mqtt.Client, msg mqtt.Message) {
	var a models.AchievementUnlocked
	if err := json.Unmarshal(msg.Payload(), &a); err != nil {
		return
	}
	if c.handlers.OnAchievement != nil {
		c.handlers.OnAchievement(a)
	}
}
