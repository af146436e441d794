package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple
// goroutines; writes are linearized by Redis, so all subscribers observe
// mutations in the order they were applied.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// UpsertFact writes a fact and publishes a fact_upserted event.
// Last write for a key wins. The event is published on every write,
// whether or not the stored value changed - policies rely on re-upserts of
// an identical fact still producing a tick.
func (c *Client) UpsertFact(ctx context.Context, f Fact) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid fact: %w", err)
	}

	key := FactKey(c.instanceName, f.Key)
	fields := map[string]any{
		"key":   f.Key,
		"type":  f.Type,
		"value": string(f.Value),
	}
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write fact to Redis: %w", err)
	}

	return c.publishEvent(ctx, Event{Kind: EventFactUpserted, Key: f.Key})
}

// GetFact retrieves a fact by key.
// Returns (nil, redis.Nil) if the fact doesn't exist; check with IsNotFound.
func (c *Client) GetFact(ctx context.Context, factKey string) (*Fact, error) {
	data, err := c.rdb.HGetAll(ctx, FactKey(c.instanceName, factKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read fact from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys.
	if len(data) == 0 {
		return nil, redis.Nil
	}

	return factFromHash(data)
}

// HasFact checks if a fact exists without decoding it.
func (c *Client) HasFact(ctx context.Context, factKey string) (bool, error) {
	exists, err := c.rdb.Exists(ctx, FactKey(c.instanceName, factKey)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check fact existence: %w", err)
	}
	return exists > 0, nil
}

// Facts returns a snapshot of all facts matching the predicate.
// A nil predicate matches everything. Uses SCAN so large blackboards never
// block the server.
func (c *Client) Facts(ctx context.Context, pred func(Fact) bool) ([]Fact, error) {
	var facts []Fact

	iter := c.rdb.Scan(ctx, 0, FactScanPattern(c.instanceName), 0).Iterator()
	for iter.Next(ctx) {
		data, err := c.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read fact %s: %w", iter.Val(), err)
		}
		if len(data) == 0 {
			continue
		}
		f, err := factFromHash(data)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(*f) {
			facts = append(facts, *f)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan facts: %w", err)
	}

	return facts, nil
}

// AddArtifact appends an artifact and publishes an artifact_added event.
// Artifacts are append-only: adding the same name twice stores both.
func (c *Client) AddArtifact(ctx context.Context, a Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	if err := c.rdb.RPush(ctx, ArtifactsKey(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to append artifact to Redis: %w", err)
	}

	return c.publishEvent(ctx, Event{Kind: EventArtifactAdded, Name: a.Name})
}

// Artifacts returns a snapshot of all artifacts matching the predicate, in
// insertion order. A nil predicate matches everything.
func (c *Client) Artifacts(ctx context.Context, pred func(Artifact) bool) ([]Artifact, error) {
	raw, err := c.rdb.LRange(ctx, ArtifactsKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts from Redis: %w", err)
	}

	var artifacts []Artifact
	for _, item := range raw {
		var a Artifact
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
		}
		if pred == nil || pred(a) {
			artifacts = append(artifacts, a)
		}
	}

	return artifacts, nil
}

// publishEvent broadcasts a change event to all subscribers.
func (c *Client) publishEvent(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal blackboard event: %w", err)
	}
	if err := c.rdb.Publish(ctx, EventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish blackboard event: %w", err)
	}
	return nil
}

// factFromHash reconstructs a Fact from its Redis hash representation.
func factFromHash(data map[string]string) (*Fact, error) {
	f := &Fact{
		Key:   data["key"],
		Type:  data["type"],
		Value: json.RawMessage(data["value"]),
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("failed to deserialize fact: %w", err)
	}
	return f, nil
}

// Subscription represents an active Pub/Sub subscription to blackboard
// change events. Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of change events.
// The channel is closed when the subscription is closed or the context is
// cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors are non-fatal (e.g. unmarshal failures); the subscription
// continues and the offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements
// io.Closer. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to blackboard change events for this instance.
// Events arrive in mutation order. Caller must call subscription.Close()
// when done; context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel to decouple subscribers from
// the Redis reader goroutine.
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EventsChannel(c.instanceName))

	// Confirm the subscription before returning so events published after
	// SubscribeEvents returns are never missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to blackboard events: %w", err)
	}

	eventsChan := make(chan *Event, 64)
	errorsChan := make(chan error, 16)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal blackboard event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
// Use this to check if GetFact returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
