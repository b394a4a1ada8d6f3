package broker

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	_ "github.com/cosmopolite/cosmopolite/server/db/pebble"
	"github.com/cosmopolite/cosmopolite/server/events"
	"github.com/cosmopolite/cosmopolite/server/store"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

const testConfig = `{
	"uid_key": "la6YsO+bNX/+XIkOqc5Svw==",
	"use_adapter": "pebble",
	"adapters": {"pebble": {"in_memory": true, "fsync": false}}
}`

func TestMain(m *testing.M) {
	if err := store.Store.Open(1, json.RawMessage(testConfig)); err != nil {
		log.Fatal("failed to open store: ", err)
	}
	code := m.Run()
	store.Store.Close()
	os.Exit(code)
}

// recorder is a push transport which remembers everything sent to it.
type recorder struct {
	mu     sync.Mutex
	opened []string
	sent   map[string][][]byte
}

func newRecorder() *recorder {
	return &recorder{sent: make(map[string][][]byte)}
}

func (r *recorder) Open(instance string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, instance)
	return "token-" + instance, nil
}

func (r *recorder) Send(instance string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[instance] = append(r.sent[instance], payload)
	return nil
}

// take returns and forgets the events sent to the instance.
func (r *recorder) take(t *testing.T, instance string) []events.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, payload := range r.sent[instance] {
		ev, err := events.Decode(payload)
		if err != nil {
			t.Fatalf("bad payload %s: %v", payload, err)
		}
		out = append(out, ev)
	}
	delete(r.sent, instance)
	return out
}

type fixture struct {
	*Broker
	push *recorder
}

func newFixture(t *testing.T) *fixture {
	push := newRecorder()
	b := New(push, 4, 16)
	t.Cleanup(b.Stop)
	return &fixture{Broker: b, push: push}
}

func identity(t *testing.T, client, account string) *Identity {
	t.Helper()
	_, prof, err := store.Clients.Resolve(client, account)
	if err != nil {
		t.Fatal(err)
	}
	return &Identity{Profile: prof.Uid(), Client: client, Account: account, Address: "127.0.0.1"}
}

// connect creates a connected push instance.
func (f *fixture) connect(t *testing.T, who *Identity, instance string) {
	t.Helper()
	if _, _, err := f.CreateChannel(who, instance); err != nil {
		t.Fatal(err)
	}
	if err := f.ChannelConnected(instance); err != nil {
		t.Fatal(err)
	}
}

func uniq(t *testing.T, s string) string {
	return strings.ReplaceAll(t.Name(), "/", "_") + "-" + s
}

func messageTexts(t *testing.T, evs []events.Event) []string {
	t.Helper()
	var out []string
	for _, ev := range evs {
		switch e := ev.(type) {
		case *events.Message:
			out = append(out, "message:"+e.Message)
		case *events.Pin:
			out = append(out, e.Type()+":"+e.Message)
		default:
			out = append(out, ev.Type())
		}
	}
	return out
}

func TestSendMessageFanOut(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	bob := identity(t, uniq(t, "bob"), "")
	room := events.Subject{Name: uniq(t, "room1")}
	bobInst := uniq(t, "bob-inst")

	f.connect(t, bob, bobInst)
	if evs, err := f.Subscribe(bob, bobInst, room, 0, nil); err != nil || len(evs) != 0 {
		t.Fatalf("Subscribe = %v, %v", evs, err)
	}

	msg, err := f.SendMessage(alice, room, "hi", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Id != 1 || msg.Sender != alice.Profile.String() {
		t.Errorf("unexpected message %+v", msg)
	}

	got := f.push.take(t, bobInst)
	if len(got) != 1 {
		t.Fatalf("expected one pushed event, got %d", len(got))
	}
	pushed := got[0].(*events.Message)
	if pushed.Message != "hi" || pushed.SenderMessageId != "m1" || pushed.Id != 1 || pushed.Subject.Name != room.Name {
		t.Errorf("unexpected pushed event %+v", pushed)
	}

	_, err = f.SendMessage(alice, room, "hi", "m1")
	if !errors.Is(err, types.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateError, got %T", err)
	}
	if diff := cmp.Diff(events.Event(msg), dup.Original); diff != "" {
		t.Errorf("original event mismatch (-want +got):\n%s", diff)
	}
	if got := f.push.take(t, bobInst); len(got) != 0 {
		t.Errorf("duplicate must not be delivered, got %v", got)
	}

	// The dedup key is scoped to the subject, not to the sender.
	if _, err := f.SendMessage(bob, room, "other", "m1"); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("expected duplicate for another sender, got %v", err)
	}
	if _, err := f.SendMessage(alice, events.Subject{Name: uniq(t, "room2")}, "hi", "m1"); err != nil {
		t.Errorf("same sender message id in another subject: %v", err)
	}
}

func TestPollingSubscriber(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "alice@example.com")
	room := events.Subject{Name: uniq(t, "room")}
	inst := uniq(t, "poller")

	evs, err := f.Poll(alice, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]events.Event{&events.Login{Account: "alice@example.com"}}, evs); diff != "" {
		t.Errorf("first poll mismatch (-want +got):\n%s", diff)
	}

	if _, err := f.Subscribe(alice, inst, room, 0, nil); err != nil {
		t.Fatal(err)
	}
	for _, smid := range []string{"a", "b"} {
		if _, err := f.SendMessage(alice, room, "text "+smid, smid); err != nil {
			t.Fatal(err)
		}
	}

	evs, err = f.Poll(alice, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"login", "message:text a", "message:text b"}, messageTexts(t, evs)); diff != "" {
		t.Fatalf("poll mismatch (-want +got):\n%s", diff)
	}
	first, second := evs[1].(*events.Message), evs[2].(*events.Message)
	if first.EventId == "" || second.EventId == "" || first.EventId == second.EventId {
		t.Fatalf("buffered events need distinct ids: %q %q", first.EventId, second.EventId)
	}

	evs, _ = f.Poll(alice, inst, []string{first.EventId})
	if len(evs) != 2 || evs[1].(*events.Message).EventId != second.EventId {
		t.Errorf("acked event must be gone: %v", messageTexts(t, evs))
	}
	evs, _ = f.Poll(alice, inst, []string{second.EventId})
	if len(evs) != 1 {
		t.Errorf("everything was acked, got %v", messageTexts(t, evs))
	}
	evs, _ = f.Poll(alice, inst, nil)
	if len(evs) != 1 {
		t.Errorf("acked events must never come back, got %v", messageTexts(t, evs))
	}
}

func TestPinUnpin(t *testing.T) {
	f := newFixture(t)
	carol := identity(t, uniq(t, "carol"), "")
	dave := identity(t, uniq(t, "dave"), "")
	subj := events.Subject{Name: uniq(t, "s")}
	carolInst, daveInst, lateInst := uniq(t, "carol-inst"), uniq(t, "dave-inst"), uniq(t, "late-inst")

	// Pinning from an instance which is not connected yet.
	if _, err := f.Pin(carol, carolInst, subj, "top", "p1"); err != types.ErrRetry {
		t.Fatalf("expected retry for unknown instance, got %v", err)
	}
	if _, _, err := f.CreateChannel(carol, carolInst); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Pin(carol, carolInst, subj, "top", "p1"); err != types.ErrRetry {
		t.Fatalf("expected retry for inactive instance, got %v", err)
	}
	if err := f.ChannelConnected(carolInst); err != nil {
		t.Fatal(err)
	}

	f.connect(t, dave, daveInst)
	if _, err := f.Subscribe(dave, daveInst, subj, 0, nil); err != nil {
		t.Fatal(err)
	}

	pin, err := f.Pin(carol, carolInst, subj, "top", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Pin(carol, carolInst, subj, "top", "p1"); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("expected duplicate pin, got %v", err)
	}
	if err := f.Unpin(carol, carolInst, subj, "p1"); err != nil {
		t.Fatal(err)
	}

	got := f.push.take(t, daveInst)
	if diff := cmp.Diff([]string{"pin:top", "unpin:top"}, messageTexts(t, got)); diff != "" {
		t.Fatalf("pushed events mismatch (-want +got):\n%s", diff)
	}
	if got[1].(*events.Pin).Id != pin.Id {
		t.Errorf("unpin must reference the pin %s, got %+v", pin.Id, got[1])
	}

	f.connect(t, dave, lateInst)
	backfill, err := f.Subscribe(dave, lateInst, subj, -1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(backfill) != 0 {
		t.Errorf("late subscriber must see no pins, got %v", messageTexts(t, backfill))
	}

	// Unpinning through an unknown instance does nothing.
	if err := f.Unpin(carol, uniq(t, "missing"), subj, "p1"); err != nil {
		t.Errorf("unpin from unknown instance: %v", err)
	}
}

func TestAccessControl(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	bob := identity(t, uniq(t, "bob"), "")
	admin := identity(t, uniq(t, "admin"), "")
	admin.Admin = true
	aliceInst, adminInst := uniq(t, "alice-inst"), uniq(t, "admin-inst")

	mine := events.Subject{Name: uniq(t, "private"), ReadableOnlyBy: events.Me}
	byId := events.Subject{Name: mine.Name, ReadableOnlyBy: alice.Profile.String()}

	f.connect(t, alice, aliceInst)
	f.connect(t, admin, adminInst)
	if _, err := f.Subscribe(alice, aliceInst, mine, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Subscribe(bob, uniq(t, "bob-inst"), byId, 0, nil); err != types.ErrAccessDenied {
		t.Errorf("bob must not read alice's subject, got %v", err)
	}
	if _, err := f.Subscribe(admin, adminInst, byId, 0, nil); err != nil {
		t.Errorf("admin may read anything, got %v", err)
	}

	// Anyone may write: only reading is restricted.
	if _, err := f.SendMessage(bob, byId, "hello alice", "b1"); err != nil {
		t.Fatal(err)
	}

	got := f.push.take(t, aliceInst)
	if len(got) != 1 || got[0].(*events.Message).Subject.ReadableOnlyBy != events.Me {
		t.Errorf("owner must see 'me' as the restriction: %+v", got)
	}
	got = f.push.take(t, adminInst)
	if len(got) != 1 || got[0].(*events.Message).Subject.ReadableOnlyBy != alice.Profile.String() {
		t.Errorf("admin must see the owner id: %+v", got)
	}

	locked := events.Subject{Name: uniq(t, "announcements"), WritableOnlyBy: types.AdminOwner}
	if _, err := f.SendMessage(alice, locked, "x", "x1"); err != types.ErrAccessDenied {
		t.Errorf("only admins may write, got %v", err)
	}
	if _, err := f.SendMessage(admin, locked, "x", "x1"); err != nil {
		t.Errorf("admin write failed: %v", err)
	}

	anon := &Identity{}
	if _, err := f.SendMessage(anon, mine, "x", "x2"); err != types.ErrMalformed {
		t.Errorf("'me' without a profile must be malformed, got %v", err)
	}
}

func TestSubscribeBackfill(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	subj := events.Subject{Name: uniq(t, "history")}
	for i, text := range []string{"one", "two", "three", "four", "five"} {
		if _, err := f.SendMessage(alice, subj, text, string(rune('a'+i))); err != nil {
			t.Fatal(err)
		}
	}

	inst := uniq(t, "inst")
	f.connect(t, alice, inst)

	evs, err := f.Subscribe(alice, inst, subj, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"message:four", "message:five"}, messageTexts(t, evs)); diff != "" {
		t.Errorf("recent backfill mismatch (-want +got):\n%s", diff)
	}

	since := int64(1)
	evs, err = f.Subscribe(alice, inst, subj, 2, &since)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"message:two", "message:three", "message:four", "message:five"}, messageTexts(t, evs)); diff != "" {
		t.Errorf("combined backfill mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeBeforeConnect(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	subj := events.Subject{Name: uniq(t, "early")}
	inst, pinner := uniq(t, "inst"), uniq(t, "pinner")

	f.connect(t, alice, pinner)
	if _, err := f.Pin(alice, pinner, subj, "sticky", "p"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.SendMessage(alice, subj, "old", "m"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := f.CreateChannel(alice, inst); err != nil {
		t.Fatal(err)
	}
	evs, err := f.Subscribe(alice, inst, subj, -1, nil)
	if err != types.ErrRetry {
		t.Fatalf("expected retry, got %v", err)
	}
	if diff := cmp.Diff([]string{"message:old"}, messageTexts(t, evs)); diff != "" {
		t.Errorf("history without pins expected (-want +got):\n%s", diff)
	}

	if _, err := f.SendMessage(alice, subj, "new", "n"); err != nil {
		t.Fatal(err)
	}
	if got := f.push.take(t, inst); len(got) != 0 {
		t.Errorf("no subscription must have been made, got %v", messageTexts(t, got))
	}

	if err := f.ChannelConnected(inst); err != nil {
		t.Fatal(err)
	}
	evs, err = f.Subscribe(alice, inst, subj, -1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"pin:sticky", "message:old", "message:new"}, messageTexts(t, evs)); diff != "" {
		t.Errorf("backfill mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	subj := events.Subject{Name: uniq(t, "topic")}
	inst := uniq(t, "inst")

	f.connect(t, alice, inst)
	if _, err := f.Subscribe(alice, inst, subj, 0, nil); err != nil {
		t.Fatal(err)
	}
	// Subscribing twice makes one subscription.
	if _, err := f.Subscribe(alice, inst, subj, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.SendMessage(alice, subj, "x", "1"); err != nil {
		t.Fatal(err)
	}
	if got := f.push.take(t, inst); len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}

	if err := f.Unsubscribe(alice, inst, subj); err != nil {
		t.Fatal(err)
	}
	if err := f.Unsubscribe(alice, inst, subj); err != nil {
		t.Errorf("second unsubscribe must succeed, got %v", err)
	}
	if _, err := f.SendMessage(alice, subj, "y", "2"); err != nil {
		t.Fatal(err)
	}
	if got := f.push.take(t, inst); len(got) != 0 {
		t.Errorf("unsubscribed instance received %v", messageTexts(t, got))
	}
}

func TestChannelLifecycle(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	bob := identity(t, uniq(t, "bob"), "")
	subj := events.Subject{Name: uniq(t, "shared")}
	aliceInst, bobInst := uniq(t, "alice-inst"), uniq(t, "bob-inst")

	unknown := uniq(t, "unknown")
	if err := f.ChannelConnected(unknown); err != types.ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown instance, got %v", err)
	}
	if got := f.push.take(t, unknown); len(got) != 1 || got[0].Type() != events.TypeClose {
		t.Errorf("unknown instance must be told to close, got %v", got)
	}

	f.connect(t, alice, aliceInst)
	f.connect(t, bob, bobInst)
	if _, err := f.Subscribe(alice, aliceInst, subj, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Subscribe(bob, bobInst, subj, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Pin(alice, aliceInst, subj, "here", "p"); err != nil {
		t.Fatal(err)
	}
	f.push.take(t, bobInst)

	if err := f.ChannelDisconnected(aliceInst); err != nil {
		t.Fatal(err)
	}
	got := f.push.take(t, bobInst)
	if diff := cmp.Diff([]string{"unpin:here"}, messageTexts(t, got)); diff != "" {
		t.Errorf("teardown must unpin (-want +got):\n%s", diff)
	}
	if inst, _ := store.Instances.Get(aliceInst); inst != nil {
		t.Error("instance must be deleted")
	}
	if subs, _ := store.Subs.ForInstance(aliceInst); len(subs) != 0 {
		t.Errorf("subscriptions must be deleted, got %+v", subs)
	}

	if _, err := f.Poll(bob, bobInst, nil); err != types.ErrMalformed {
		t.Errorf("poll on a push instance must be malformed, got %v", err)
	}
}

func TestCreateChannelOnPollingInstance(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	inst := uniq(t, "inst")
	if _, err := f.Poll(alice, inst, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.CreateChannel(alice, inst); err != types.ErrMalformed {
		t.Errorf("expected malformed, got %v", err)
	}
	token, evs, err := f.CreateChannel(alice, uniq(t, "push"))
	if err != nil || token == "" || len(evs) != 1 || evs[0].Type() != events.TypeLogout {
		t.Errorf("CreateChannel = %q, %v, %v", token, evs, err)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	subj := events.Subject{Name: uniq(t, "swept")}
	inst := uniq(t, "poller")

	if _, err := f.Poll(alice, inst, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Subscribe(alice, inst, subj, 0, nil); err != nil {
		t.Fatal(err)
	}

	if n, err := f.Sweep(time.Hour); err != nil || n != 0 {
		t.Fatalf("nothing is an hour old, swept %d, %v", n, err)
	}

	time.Sleep(5 * time.Millisecond)
	n, err := f.Sweep(0)
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Errorf("expected the poller to be swept, got %d", n)
	}
	if got, _ := store.Instances.Get(inst); got != nil {
		t.Error("swept instance still exists")
	}
	if subs, _ := store.Subs.ForInstance(inst); len(subs) != 0 {
		t.Errorf("subscriptions of a swept instance remain: %+v", subs)
	}
}

func TestDeleteInstanceRacesSubscribe(t *testing.T) {
	f := newFixture(t)
	alice := identity(t, uniq(t, "alice"), "")
	subj := events.Subject{Name: uniq(t, "contended")}

	for i := 0; i < 20; i++ {
		inst := uniq(t, "poller-"+strconv.Itoa(i))
		if _, err := f.Poll(alice, inst, nil); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.Subscribe(alice, inst, subj, 0, nil); err != nil && err != types.ErrRetry {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := f.DeleteInstance(inst); err != nil {
				t.Error(err)
			}
		}()
		wg.Wait()

		if subs, _ := store.Subs.ForInstance(inst); len(subs) != 0 {
			t.Fatalf("subscription outlived its instance: %+v", subs)
		}
	}
}
