package channel

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cosmopolite/cosmopolite/server/logs"
)

const (
	defaultRelayTopic = "cosmopolite:push"
	publishTimeout    = 2 * time.Second
)

// RedisConfig configures the relay between nodes.
type RedisConfig struct {
	// host:port of the redis server. Empty disables the relay.
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// Pub/sub channel name.
	Topic string `json:"topic,omitempty"`
}

// relayMessage is published for pushes to instances connected to another node.
type relayMessage struct {
	// Publishing node. Nodes ignore their own messages.
	Node     string          `json:"node"`
	Instance string          `json:"instance"`
	Payload  json.RawMessage `json:"payload"`
}

// Relay forwards pushes between nodes over redis pub/sub.
type Relay struct {
	client *redis.Client
	pubsub *redis.PubSub
	topic  string
	node   string
	hub    *Hub
	done   chan struct{}
}

// EnableRelay connects the hub to the other nodes through redis.
func (h *Hub) EnableRelay(ctx context.Context, conf *RedisConfig, node string) error {
	if conf == nil || conf.Addr == "" {
		return errors.New("channel: redis address is not configured")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Username: conf.Username,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return err
	}

	topic := conf.Topic
	if topic == "" {
		topic = defaultRelayTopic
	}
	pubsub := client.Subscribe(ctx, topic)
	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		client.Close()
		return err
	}

	r := &Relay{
		client: client,
		pubsub: pubsub,
		topic:  topic,
		node:   node,
		hub:    h,
		done:   make(chan struct{}),
	}
	h.relay = r
	go r.run()

	logs.Info.Printf("channel: relay enabled on '%s' as node '%s'", topic, node)
	return nil
}

// Publish sends the payload to the node the instance is connected to.
func (r *Relay) Publish(instance string, payload []byte) error {
	data, err := json.Marshal(&relayMessage{Node: r.node, Instance: instance, Payload: payload})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.topic, data).Err()
}

func (r *Relay) run() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		r.handle([]byte(msg.Payload))
	}
}

func (r *Relay) handle(data []byte) {
	var rm relayMessage
	if err := json.Unmarshal(data, &rm); err != nil {
		logs.Warn.Println("channel: malformed relay message", err)
		return
	}
	if rm.Node == r.node {
		return
	}
	r.hub.deliverLocal(rm.Instance, rm.Payload)
}

// Close disconnects from redis.
func (r *Relay) Close() {
	r.pubsub.Close()
	<-r.done
	r.client.Close()
}
