// Package broker implements subject commands and the fan-out of new events to subscribers.
//
// A command touching one subject (append, pin, unpin, subscribe) is applied by the store
// in a single transaction, which also returns the subject's subscriptions. Delivery to those
// subscriptions happens afterwards and is best effort: push subscribers get the event over
// their channel, polling subscribers get it appended to their event buffer.
package broker

import (
	"errors"
	"time"

	"github.com/cosmopolite/cosmopolite/server/concurrency"
	"github.com/cosmopolite/cosmopolite/server/events"
	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

// Identity of the caller, resolved before a command runs.
type Identity struct {
	// Profile of the caller. Always set by the dispatcher.
	Profile types.Uid
	// Client id as presented by the caller.
	Client string
	// Verified external account, empty for anonymous callers.
	Account string
	// Caller is an administrator: subject restrictions do not apply.
	Admin bool
	// Best-effort network address of the caller.
	Address string
}

// Pusher is the push transport.
type Pusher interface {
	// Open allocates a channel for the instance and returns the token to connect with.
	Open(instance string) (string, error)
	// Send delivers a serialized event to the instance if it is connected.
	Send(instance string, payload []byte) error
}

// DuplicateError is returned when the sender message id was seen before.
// Original is the stored event as seen by the caller.
type DuplicateError struct {
	Original events.Event
}

func (e *DuplicateError) Error() string {
	return "duplicate " + e.Original.Type()
}

// Is makes DuplicateError match types.ErrDuplicate.
func (e *DuplicateError) Is(target error) bool {
	return target == types.ErrDuplicate
}

// Broker executes commands against the store.
type Broker struct {
	pusher Pusher
	pool   *concurrency.GoRoutinePool
	// Serializes teardown of an instance with commands which attach to it.
	// Only guards this node: teardown and commands of one instance normally run on the
	// node holding its channel.
	instances *concurrency.KeyedMutex
}

// New creates a broker delivering pushes through pusher. Fan-out runs on at most
// workers goroutines with a queue of queueLen pending deliveries.
func New(pusher Pusher, workers, queueLen int) *Broker {
	return &Broker{
		pusher:    pusher,
		pool:      concurrency.NewGoRoutinePool(workers, queueLen),
		instances: concurrency.NewKeyedMutex(),
	}
}

// Stop releases the fan-out workers.
func (b *Broker) Stop() {
	b.pool.Stop()
}

// resolveOwner replaces "me" with the caller's profile.
func resolveOwner(who *Identity, owner string) (string, error) {
	if owner != events.Me {
		return owner, nil
	}
	if who.Profile.IsZero() {
		return "", types.ErrMalformed
	}
	return who.Profile.String(), nil
}

// subject finds or creates the subject described by the caller.
func (b *Broker) subject(who *Identity, desc events.Subject) (*types.Subject, error) {
	readable, err := resolveOwner(who, desc.ReadableOnlyBy)
	if err != nil {
		return nil, err
	}
	writable, err := resolveOwner(who, desc.WritableOnlyBy)
	if err != nil {
		return nil, err
	}
	return store.Subjects.FindOrCreate(desc.Name, readable, writable)
}

// SendMessage appends a message to the subject and delivers it to subscribers.
func (b *Broker) SendMessage(who *Identity, desc events.Subject, text, senderMessageId string) (*events.Message, error) {
	subj, err := b.subject(who, desc)
	if err != nil {
		return nil, err
	}
	if err = subj.VerifyWritable(who.Profile, who.Admin); err != nil {
		logs.Warn.Println("broker: send message access denied", who.Profile, subj.Name)
		return nil, err
	}

	msg, subs, err := store.Messages.Append(&types.Message{
		Subject:         subj.Id,
		Sender:          who.Profile.String(),
		SenderMessageId: senderMessageId,
		SenderAddress:   who.Address,
		Message:         text,
	})
	if errors.Is(err, types.ErrDuplicate) && msg != nil {
		logs.Warn.Println("broker: duplicate message", senderMessageId)
		return nil, &DuplicateError{Original: asSeenBy(who, subj, events.FromMessage(msg, subj))}
	}
	if err != nil {
		return nil, err
	}
	messagesAppended.Inc()

	ev := events.FromMessage(msg, subj)
	b.deliver(ev, subs)
	return asSeenBy(who, subj, ev).(*events.Message), nil
}

// Pin adds a sticky message owned by the instance and delivers it to subscribers.
// Returns types.ErrRetry if the instance is not connected yet.
func (b *Broker) Pin(who *Identity, instance string, desc events.Subject, text, senderMessageId string) (*events.Pin, error) {
	unlock := b.instances.Lock(instance)
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()

	inst, err := store.Instances.Get(instance)
	if err != nil {
		return nil, err
	}
	if inst == nil || !inst.Active {
		// Probably a race with the channel opening.
		return nil, types.ErrRetry
	}

	subj, err := b.subject(who, desc)
	if err != nil {
		return nil, err
	}
	if err = subj.VerifyWritable(who.Profile, who.Admin); err != nil {
		logs.Warn.Println("broker: pin access denied", who.Profile, subj.Name)
		return nil, err
	}

	pin, subs, err := store.Pins.Create(&types.Pin{
		Subject:         subj.Id,
		Instance:        instance,
		Sender:          who.Profile.String(),
		SenderMessageId: senderMessageId,
		SenderAddress:   who.Address,
		Message:         text,
	})
	if errors.Is(err, types.ErrDuplicate) && pin != nil {
		logs.Warn.Println("broker: duplicate pin", senderMessageId)
		return nil, &DuplicateError{Original: asSeenBy(who, subj, events.FromPin(pin, subj, false))}
	}
	if err != nil {
		return nil, err
	}
	pinOps.WithLabelValues("created").Inc()
	unlock()
	locked = false

	ev := events.FromPin(pin, subj, false)
	b.deliver(ev, subs)
	return asSeenBy(who, subj, ev).(*events.Pin), nil
}

// Unpin removes the caller's pins with the given sender message id created by the instance
// and delivers an unpin event for each. Unknown instances are ignored.
func (b *Broker) Unpin(who *Identity, instance string, desc events.Subject, senderMessageId string) error {
	subj, err := b.subject(who, desc)
	if err != nil {
		return err
	}
	if err = subj.VerifyWritable(who.Profile, who.Admin); err != nil {
		logs.Warn.Println("broker: unpin access denied", who.Profile, subj.Name)
		return err
	}
	inst, err := store.Instances.Get(instance)
	if err != nil || inst == nil {
		return err
	}
	return b.unpin(subj, who.Profile.String(), senderMessageId, instance)
}

func (b *Broker) unpin(subj *types.Subject, sender, senderMessageId, instance string) error {
	pins, subs, err := store.Pins.Delete(subj.Id, sender, senderMessageId, instance)
	if err != nil {
		return err
	}
	for i := range pins {
		pinOps.WithLabelValues("removed").Inc()
		b.deliver(events.FromPin(&pins[i], subj, true), subs)
	}
	return nil
}

// Subscribe registers the instance's interest in the subject and returns the backfill:
// current pins, then the requested history. messages is the number of most recent
// messages to return, negative for all; sinceId requests every message after it.
//
// If the instance is not connected yet, no subscription is made: the history without pins
// is returned together with types.ErrRetry.
func (b *Broker) Subscribe(who *Identity, instance string, desc events.Subject, messages int, sinceId *int64) ([]events.Event, error) {
	subj, err := b.subject(who, desc)
	if err != nil {
		return nil, err
	}
	if err = subj.VerifyReadable(who.Profile, who.Admin); err != nil {
		logs.Warn.Println("broker: subscribe access denied", who.Profile, subj.Name)
		return nil, err
	}

	readableByMe, writableByMe := subj.IsReadableOnlyBy(who.Profile), subj.IsWritableOnlyBy(who.Profile)
	opt := &types.BackfillOpt{Messages: messages, SinceId: sinceId}

	defer b.instances.Lock(instance)()
	inst, err := store.Instances.Get(instance)
	if err != nil {
		return nil, err
	}
	if inst == nil || !inst.Active {
		// Probably a race with the channel opening.
		bf, err := store.Subjects.Backfill(subj.Id, opt)
		if err != nil {
			return nil, err
		}
		return backfillEvents(subj, bf, readableByMe, writableByMe), types.ErrRetry
	}

	opt.Pins = true
	bf, err := store.Subs.Create(&types.Subscription{
		Subject:          subj.Id,
		Instance:         instance,
		ReadableOnlyByMe: readableByMe,
		WritableOnlyByMe: writableByMe,
		Polling:          inst.Polling,
	}, opt)
	if err != nil {
		return nil, err
	}
	return backfillEvents(subj, bf, readableByMe, writableByMe), nil
}

// Unsubscribe removes the instance's subscription to the subject. Missing subscription is not an error.
func (b *Broker) Unsubscribe(who *Identity, instance string, desc events.Subject) error {
	subj, err := b.subject(who, desc)
	if err != nil {
		return err
	}
	return store.Subs.Delete(subj.Id, instance,
		subj.IsReadableOnlyBy(who.Profile), subj.IsWritableOnlyBy(who.Profile))
}

// Poll makes the instance a polling one if it is new, acknowledges the events with the
// given ids and returns the session event followed by all unacknowledged buffered events.
func (b *Broker) Poll(who *Identity, instance string, acks []string) ([]events.Event, error) {
	inst, _, err := store.Instances.GetOrCreate(instance, true)
	if err != nil {
		return nil, err
	}
	if !inst.Polling {
		return nil, types.ErrMalformed
	}
	if err = store.Instances.Polled(instance, types.TimeNow()); err != nil {
		return nil, err
	}

	result := []events.Event{events.Session(who.Account)}
	subs, err := store.Subs.ForInstance(instance)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		buffered, err := store.Events.Drain(sub.Id, acks)
		if err != nil {
			return nil, err
		}
		for _, evt := range buffered {
			ev, err := events.Decode(evt.Payload)
			if err != nil {
				logs.Err.Println("broker: dropping undecodable event", evt.Id, err)
				continue
			}
			ev.SetEventId(evt.Id)
			result = append(result, ev)
		}
	}
	return result, nil
}

// CreateChannel makes the instance a push one if it is new and opens a channel for it.
// Returns the channel token and the session event.
func (b *Broker) CreateChannel(who *Identity, instance string) (string, []events.Event, error) {
	inst, _, err := store.Instances.GetOrCreate(instance, false)
	if err != nil {
		return "", nil, err
	}
	if inst.Polling {
		return "", nil, types.ErrMalformed
	}
	token, err := b.pusher.Open(instance)
	if err != nil {
		return "", nil, err
	}
	return token, []events.Event{events.Session(who.Account)}, nil
}

// ChannelConnected marks the instance active. A channel for an unknown instance
// is told to close and types.ErrNotFound is returned.
func (b *Broker) ChannelConnected(instance string) error {
	inst, err := store.Instances.Get(instance)
	if err != nil {
		return err
	}
	if inst == nil {
		logs.Warn.Println("broker: channel opened with invalid instance", instance)
		payload, err := events.Encode(&events.Close{})
		if err != nil {
			return err
		}
		if err = b.pusher.Send(instance, payload); err != nil {
			logs.Warn.Println("broker: failed to send close to", instance, err)
		}
		return types.ErrNotFound
	}
	return store.Instances.SetActive(instance)
}

// ChannelDisconnected tears down the instance of a closed channel.
func (b *Broker) ChannelDisconnected(instance string) error {
	return b.DeleteInstance(instance)
}

// DeleteInstance removes the instance with its subscriptions and pins. Subscribers
// of the affected subjects receive unpin events. Subject restrictions are not checked.
func (b *Broker) DeleteInstance(instance string) error {
	defer b.instances.Lock(instance)()

	subs, err := store.Subs.ForInstance(instance)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err = store.Subs.DeleteById(sub.Id); err != nil {
			return err
		}
	}

	pins, err := store.Pins.ForInstance(instance)
	if err != nil {
		return err
	}
	for _, pin := range pins {
		subj, err := store.Subjects.Get(pin.Subject)
		if err != nil {
			return err
		}
		if subj == nil {
			logs.Warn.Println("broker: pin", pin.Id, "of missing subject", pin.Subject)
			continue
		}
		if err = b.unpin(subj, pin.Sender, pin.SenderMessageId, instance); err != nil {
			return err
		}
	}

	return store.Instances.Delete(instance)
}

// Sweep deletes polling instances which have not polled within timeout. Returns the number
// of deleted instances.
func (b *Broker) Sweep(timeout time.Duration) (int, error) {
	stale, err := store.Instances.GetStale(time.Now().Add(-timeout), 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, inst := range stale {
		if err := b.DeleteInstance(inst.Id); err != nil {
			return count, err
		}
		count++
	}
	instancesSwept.Add(float64(count))
	return count, nil
}

// deliver sends the event to every subscription, translated for each subscriber.
// Returns when all deliveries were attempted.
func (b *Broker) deliver(ev events.Event, subs []types.Subscription) {
	if len(subs) == 0 {
		return
	}
	tasks := make([]concurrency.Task, len(subs))
	for i := range subs {
		sub := &subs[i]
		tasks[i] = func() { b.deliverOne(ev, sub) }
	}
	b.pool.Run(tasks...)
}

func (b *Broker) deliverOne(ev events.Event, sub *types.Subscription) {
	mode := "push"
	if sub.Polling {
		mode = "poll"
	}
	payload, err := events.Encode(events.Translate(ev, sub.ReadableOnlyByMe, sub.WritableOnlyByMe))
	if err != nil {
		logs.Err.Println("broker: failed to encode event", err)
		deliveries.WithLabelValues(mode, "error").Inc()
		return
	}

	if sub.Polling {
		_, err = store.Events.Enqueue(sub.Id, payload)
		if errors.Is(err, types.ErrNotFound) {
			// Unsubscribed in the meantime.
			deliveries.WithLabelValues(mode, "gone").Inc()
			return
		}
	} else {
		err = b.pusher.Send(sub.Instance, payload)
	}
	if err != nil {
		logs.Warn.Println("broker: delivery to", sub.Instance, "failed:", err)
		deliveries.WithLabelValues(mode, "error").Inc()
		return
	}
	deliveries.WithLabelValues(mode, "ok").Inc()
}

// asSeenBy translates the event for the caller.
func asSeenBy(who *Identity, subj *types.Subject, ev events.Event) events.Event {
	return events.Translate(ev, subj.IsReadableOnlyBy(who.Profile), subj.IsWritableOnlyBy(who.Profile))
}

func backfillEvents(subj *types.Subject, bf *types.Backfill, readableByMe, writableByMe bool) []events.Event {
	out := make([]events.Event, 0, len(bf.Pins)+len(bf.Messages))
	for i := range bf.Pins {
		out = append(out, events.Translate(events.FromPin(&bf.Pins[i], subj, false), readableByMe, writableByMe))
	}
	for i := range bf.Messages {
		out = append(out, events.Translate(events.FromMessage(&bf.Messages[i], subj), readableByMe, writableByMe))
	}
	return out
}
