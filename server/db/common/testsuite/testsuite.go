// Package testsuite is a set of conformance tests shared by all database adapters.
// Every adapter's tests open the adapter against a fresh database and call Run.
package testsuite

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cosmopolite/cosmopolite/server/store/adapter"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

// Same form as store_config.uid_key.
const testUidKey = "la6YsO+bNX/+XIkOqc5Svw=="

type suite struct {
	adp  adapter.Adapter
	ugen *types.UidGenerator
	// Makes names unique between runs against a persistent database.
	run string
}

// Run executes all conformance tests against an open, initialized adapter.
func Run(t *testing.T, adp adapter.Adapter) {
	key, err := base64.StdEncoding.DecodeString(testUidKey)
	if err != nil {
		t.Fatal(err)
	}
	ugen := &types.UidGenerator{}
	if err := ugen.Init(7, key); err != nil {
		t.Fatal(err)
	}
	s := &suite{adp: adp, ugen: ugen, run: ugen.GetStr()}

	t.Run("Profiles", s.testProfiles)
	t.Run("Clients", s.testClients)
	t.Run("Instances", s.testInstances)
	t.Run("SubjectGetOrCreate", s.testSubjects)
	t.Run("MessageAppend", s.testMessageAppend)
	t.Run("MessageAppendConcurrent", s.testMessageAppendConcurrent)
	t.Run("MessageReassignSender", s.testReassign)
	t.Run("Pins", s.testPins)
	t.Run("Subscriptions", s.testSubscriptions)
	t.Run("EventDrain", s.testEvents)
}

func (s *suite) newSubject(t *testing.T, name string) *types.Subject {
	t.Helper()
	subj, err := s.adp.SubjectGetOrCreate(&types.Subject{
		Id:            s.run + "-" + name,
		CreatedAt:     types.TimeNow(),
		Name:          name,
		NextMessageId: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	return subj
}

func (s *suite) append(t *testing.T, subject, sender, smid, text string) *types.Message {
	t.Helper()
	msg, _, err := s.adp.MessageAppend(&types.Message{
		Subject:         subject,
		CreatedAt:       types.TimeNow(),
		Sender:          sender,
		SenderMessageId: smid,
		Message:         text,
	})
	if err != nil {
		t.Fatalf("append %s: %v", smid, err)
	}
	return msg
}

func (s *suite) newPin(subject, instance, sender, smid string) *types.Pin {
	pin := &types.Pin{
		Subject:         subject,
		Instance:        instance,
		Sender:          sender,
		SenderMessageId: smid,
		Message:         "pinned " + smid,
	}
	pin.SetUid(s.ugen.Get())
	pin.InitTimes()
	return pin
}

func (s *suite) newSub(subject, instance string, polling bool) *types.Subscription {
	sub := &types.Subscription{Subject: subject, Instance: instance, Polling: polling}
	sub.SetUid(s.ugen.Get())
	sub.InitTimes()
	return sub
}

func messageIds(msgs []types.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Id
	}
	return out
}

func (s *suite) testProfiles(t *testing.T) {
	account := s.run + "@example.com"

	anon := &types.Profile{}
	anon.SetUid(s.ugen.Get())
	anon.InitTimes()
	if err := s.adp.ProfileCreate(anon); err != nil {
		t.Fatal(err)
	}

	owner := &types.Profile{Account: account}
	owner.SetUid(s.ugen.Get())
	owner.InitTimes()
	if err := s.adp.ProfileCreate(owner); err != nil {
		t.Fatal(err)
	}

	dup := &types.Profile{Account: account}
	dup.SetUid(s.ugen.Get())
	if err := s.adp.ProfileCreate(dup); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("second profile for the same account: expected ErrDuplicate, got %v", err)
	}

	got, err := s.adp.ProfileGetByAccount(account)
	if err != nil || got == nil || got.Id != owner.Id {
		t.Fatalf("ProfileGetByAccount = %+v, %v; want %s", got, err, owner.Id)
	}
	if got, err := s.adp.ProfileGetByAccount("missing-" + account); err != nil || got != nil {
		t.Errorf("unknown account: expected (nil, nil), got (%+v, %v)", got, err)
	}
	if got, err := s.adp.ProfileGet(s.ugen.Get()); err != nil || got != nil {
		t.Errorf("unknown profile: expected (nil, nil), got (%+v, %v)", got, err)
	}

	if err := s.adp.ProfileSetAccount(anon.Uid(), account); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("claiming an owned account: expected ErrDuplicate, got %v", err)
	}
	if err := s.adp.ProfileSetAccount(anon.Uid(), "other-"+account); err != nil {
		t.Fatal(err)
	}
	got, err = s.adp.ProfileGet(anon.Uid())
	if err != nil || got == nil || got.Account != "other-"+account {
		t.Errorf("account was not attached: %+v, %v", got, err)
	}
}

func (s *suite) testClients(t *testing.T) {
	id := "client-" + s.run
	prof := s.ugen.Get()
	now := types.TimeNow()
	if err := s.adp.ClientCreate(&types.Client{Id: id, CreatedAt: now, UpdatedAt: now, Profile: prof.String()}); err != nil {
		t.Fatal(err)
	}
	if err := s.adp.ClientCreate(&types.Client{Id: id, CreatedAt: now, UpdatedAt: now}); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	other := s.ugen.Get()
	if err := s.adp.ClientSetProfile(id, other); err != nil {
		t.Fatal(err)
	}
	cl, err := s.adp.ClientGet(id)
	if err != nil || cl == nil {
		t.Fatalf("ClientGet = %+v, %v", cl, err)
	}
	if cl.Profile != other.String() {
		t.Errorf("profile = %s, want %s", cl.Profile, other)
	}
	if cl, err := s.adp.ClientGet("missing-" + id); err != nil || cl != nil {
		t.Errorf("unknown client: expected (nil, nil), got (%+v, %v)", cl, err)
	}
}

func (s *suite) testInstances(t *testing.T) {
	now := types.TimeNow()
	push := &types.Instance{Id: "push-" + s.run, CreatedAt: now}
	got, created, err := s.adp.InstanceGetOrCreate(push)
	if err != nil || !created || got.Id != push.Id {
		t.Fatalf("InstanceGetOrCreate = %+v, %v, %v", got, created, err)
	}
	if _, created, err = s.adp.InstanceGetOrCreate(&types.Instance{Id: push.Id, Polling: true}); err != nil || created {
		t.Errorf("second call must return the existing instance: created=%v err=%v", created, err)
	}
	if err := s.adp.InstanceUpdate(push.Id, map[string]interface{}{"Active": true}); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.adp.InstanceGet(push.Id); got == nil || !got.Active || got.Polling {
		t.Errorf("unexpected instance state %+v", got)
	}

	stale := &types.Instance{Id: "stale-" + s.run, CreatedAt: now, Polling: true, Active: true, LastPoll: now.Add(-time.Hour)}
	fresh := &types.Instance{Id: "fresh-" + s.run, CreatedAt: now, Polling: true, Active: true, LastPoll: now}
	for _, inst := range []*types.Instance{stale, fresh} {
		if _, _, err := s.adp.InstanceGetOrCreate(inst); err != nil {
			t.Fatal(err)
		}
	}

	found := func(list []types.Instance, id string) bool {
		for _, inst := range list {
			if inst.Id == id {
				return true
			}
		}
		return false
	}
	list, err := s.adp.InstanceGetStale(now.Add(-time.Minute), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !found(list, stale.Id) || found(list, fresh.Id) || found(list, push.Id) {
		t.Errorf("stale instances: %+v", list)
	}

	// A poll moves the instance out of the stale set.
	if err := s.adp.InstanceUpdate(stale.Id, map[string]interface{}{"LastPoll": now}); err != nil {
		t.Fatal(err)
	}
	if list, _ = s.adp.InstanceGetStale(now.Add(-time.Minute), 0); found(list, stale.Id) {
		t.Error("instance polled just now must not be stale")
	}

	for _, id := range []string{push.Id, stale.Id, fresh.Id} {
		if err := s.adp.InstanceDelete(id); err != nil {
			t.Fatal(err)
		}
		if got, err := s.adp.InstanceGet(id); err != nil || got != nil {
			t.Errorf("deleted instance %s still present: %+v, %v", id, got, err)
		}
	}
	if err := s.adp.InstanceDelete("missing-" + s.run); err != nil {
		t.Errorf("deleting a missing instance must succeed, got %v", err)
	}
}

func (s *suite) testSubjects(t *testing.T) {
	first := s.newSubject(t, "subjects")
	second, err := s.adp.SubjectGetOrCreate(&types.Subject{Id: first.Id, Name: "ignored", NextMessageId: 1})
	if err != nil {
		t.Fatal(err)
	}
	if second.Name != "subjects" {
		t.Errorf("existing subject must be returned, got %+v", second)
	}
	if got, err := s.adp.SubjectGet("missing-" + s.run); err != nil || got != nil {
		t.Errorf("unknown subject: expected (nil, nil), got (%+v, %v)", got, err)
	}
}

func (s *suite) testMessageAppend(t *testing.T) {
	subj := s.newSubject(t, "append")
	for i := 1; i <= 5; i++ {
		msg := s.append(t, subj.Id, "alice", fmt.Sprintf("m%d", i), fmt.Sprintf("text %d", i))
		if msg.Id != int64(i) {
			t.Errorf("message %d got id %d", i, msg.Id)
		}
	}

	orig, _, err := s.adp.MessageAppend(&types.Message{Subject: subj.Id, Sender: "mallory", SenderMessageId: "m3", Message: "changed"})
	if !errors.Is(err, types.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if orig == nil || orig.Id != 3 || orig.Message != "text 3" || orig.Sender != "alice" {
		t.Errorf("duplicate must return the stored message, got %+v", orig)
	}

	recent, err := s.adp.MessageGetRecent(subj.Id, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{4, 5}, messageIds(recent)); diff != "" {
		t.Errorf("MessageGetRecent(2) mismatch (-want +got):\n%s", diff)
	}
	all, _ := s.adp.MessageGetRecent(subj.Id, 0)
	if diff := cmp.Diff([]int64{1, 2, 3, 4, 5}, messageIds(all)); diff != "" {
		t.Errorf("MessageGetRecent(0) mismatch (-want +got):\n%s", diff)
	}
	since, _ := s.adp.MessageGetSince(subj.Id, 3)
	if diff := cmp.Diff([]int64{4, 5}, messageIds(since)); diff != "" {
		t.Errorf("MessageGetSince(3) mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := s.adp.MessageAppend(&types.Message{Subject: "missing-" + s.run, SenderMessageId: "x"}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("append to unknown subject: expected ErrNotFound, got %v", err)
	}
}

func (s *suite) testMessageAppendConcurrent(t *testing.T) {
	const writers = 8
	const perWriter = 10

	subj := s.newSubject(t, "concurrent")
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter*2)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				smid := fmt.Sprintf("w%d-%d", w, i)
				// Every message is sent twice to exercise dedup under contention.
				for try := 0; try < 2; try++ {
					_, _, err := s.adp.MessageAppend(&types.Message{Subject: subj.Id, Sender: "bob", SenderMessageId: smid})
					if err != nil && !(try == 1 && errors.Is(err, types.ErrDuplicate)) {
						errs <- fmt.Errorf("%s try %d: %w", smid, try, err)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	msgs, err := s.adp.MessageGetSince(subj.Id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != writers*perWriter {
		t.Fatalf("expected %d messages, got %d", writers*perWriter, len(msgs))
	}
	seen := make(map[string]bool)
	for i, m := range msgs {
		if i > 0 && m.Id <= msgs[i-1].Id {
			t.Fatalf("ids are not strictly increasing at %d: %d after %d", i, m.Id, msgs[i-1].Id)
		}
		if seen[m.SenderMessageId] {
			t.Fatalf("sender message id %s stored twice", m.SenderMessageId)
		}
		seen[m.SenderMessageId] = true
	}
}

func (s *suite) testReassign(t *testing.T) {
	from, into := s.ugen.Get(), s.ugen.Get()
	subjA := s.newSubject(t, "reassign-a")
	subjB := s.newSubject(t, "reassign-b")
	s.append(t, subjA.Id, from.String(), "a1", "one")
	s.append(t, subjB.Id, from.String(), "b1", "two")
	s.append(t, subjB.Id, "someone", "b2", "three")

	count, err := s.adp.MessageReassignSender(from, into)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 reassigned messages, got %d", count)
	}
	msgs, _ := s.adp.MessageGetSince(subjB.Id, 0)
	if len(msgs) != 2 || msgs[0].Sender != into.String() || msgs[1].Sender != "someone" {
		t.Errorf("unexpected senders after reassignment: %+v", msgs)
	}
	if count, _ := s.adp.MessageReassignSender(from, into); count != 0 {
		t.Errorf("second reassignment must find nothing, got %d", count)
	}
}

func (s *suite) testPins(t *testing.T) {
	subj := s.newSubject(t, "pins")
	inst1, inst2 := "pin-inst1-"+s.run, "pin-inst2-"+s.run

	sub := s.newSub(subj.Id, inst1, false)
	if _, err := s.adp.SubsCreate(sub, nil); err != nil {
		t.Fatal(err)
	}

	pin, subs, err := s.adp.PinCreate(s.newPin(subj.Id, inst1, "carol", "p1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Id != sub.Id {
		t.Errorf("pin must return subscriptions of the subject, got %+v", subs)
	}

	orig, _, err := s.adp.PinCreate(s.newPin(subj.Id, inst1, "carol", "p1"))
	if !errors.Is(err, types.ErrDuplicate) || orig == nil || orig.Id != pin.Id {
		t.Errorf("same instance: expected duplicate of %s, got %+v, %v", pin.Id, orig, err)
	}
	if _, _, err := s.adp.PinCreate(s.newPin(subj.Id, inst2, "carol", "p1")); err != nil {
		t.Errorf("different instance must produce an independent pin, got %v", err)
	}

	pins, _ := s.adp.PinsForSubject(subj.Id)
	if len(pins) != 2 {
		t.Errorf("expected 2 pins, got %d", len(pins))
	}
	byInst, _ := s.adp.PinsForInstance(inst1)
	if len(byInst) != 1 || byInst[0].Id != pin.Id {
		t.Errorf("PinsForInstance = %+v", byInst)
	}

	// Wrong sender removes nothing.
	if removed, _, err := s.adp.PinDelete(subj.Id, "mallory", "p1", inst1); err != nil || len(removed) != 0 {
		t.Errorf("unpin by another sender: %+v, %v", removed, err)
	}
	removed, subs, err := s.adp.PinDelete(subj.Id, "carol", "p1", inst1)
	if err != nil || len(removed) != 1 || removed[0].Id != pin.Id || len(subs) != 1 {
		t.Fatalf("PinDelete = %+v, %+v, %v", removed, subs, err)
	}
	if pins, _ = s.adp.PinsForSubject(subj.Id); len(pins) != 1 || pins[0].Instance != inst2 {
		t.Errorf("remaining pins: %+v", pins)
	}
	if byInst, _ = s.adp.PinsForInstance(inst1); len(byInst) != 0 {
		t.Errorf("instance index not cleaned up: %+v", byInst)
	}
	// Pin again after unpin is allowed.
	if _, _, err := s.adp.PinCreate(s.newPin(subj.Id, inst1, "carol", "p1")); err != nil {
		t.Errorf("re-pin after unpin: %v", err)
	}
}

func (s *suite) testSubscriptions(t *testing.T) {
	subj := s.newSubject(t, "subs")
	inst := "sub-inst-" + s.run
	for i := 1; i <= 5; i++ {
		s.append(t, subj.Id, "dave", fmt.Sprintf("s%d", i), "hello")
	}
	if _, _, err := s.adp.PinCreate(s.newPin(subj.Id, "other-"+inst, "dave", "pin")); err != nil {
		t.Fatal(err)
	}

	sub := s.newSub(subj.Id, inst, true)
	bf, err := s.adp.SubsCreate(sub, &types.BackfillOpt{Messages: 2, Pins: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{4, 5}, messageIds(bf.Messages)); diff != "" {
		t.Errorf("backfill mismatch (-want +got):\n%s", diff)
	}
	if len(bf.Pins) != 1 {
		t.Errorf("backfill must contain the pin, got %+v", bf.Pins)
	}

	since := int64(1)
	again := s.newSub(subj.Id, inst, true)
	bf, err = s.adp.SubsCreate(again, &types.BackfillOpt{SinceId: &since})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{2, 3, 4, 5}, messageIds(bf.Messages)); diff != "" {
		t.Errorf("backfill since mismatch (-want +got):\n%s", diff)
	}
	subs, _ := s.adp.SubsForSubject(subj.Id)
	if len(subs) != 1 || subs[0].Id != sub.Id || !subs[0].Polling {
		t.Fatalf("subscription must be created once, got %+v", subs)
	}

	// Different view flags make a different subscription.
	flagged := s.newSub(subj.Id, inst, true)
	flagged.ReadableOnlyByMe = true
	if _, err := s.adp.SubsCreate(flagged, nil); err != nil {
		t.Fatal(err)
	}
	if subs, _ = s.adp.SubsForInstance(inst); len(subs) != 2 {
		t.Errorf("expected 2 subscriptions for the instance, got %d", len(subs))
	}

	if err := s.adp.SubsDelete(subj.Id, inst, false, false); err != nil {
		t.Fatal(err)
	}
	if subs, _ = s.adp.SubsForSubject(subj.Id); len(subs) != 1 || subs[0].Id != flagged.Id {
		t.Errorf("only the flagged subscription must remain, got %+v", subs)
	}
	if err := s.adp.SubsDelete(subj.Id, inst, false, false); err != nil {
		t.Errorf("deleting a missing subscription must succeed, got %v", err)
	}
	if err := s.adp.SubsDeleteById(flagged.Id); err != nil {
		t.Fatal(err)
	}
	if subs, _ = s.adp.SubsForInstance(inst); len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %+v", subs)
	}
	if _, err := s.adp.SubsCreate(s.newSub("missing-"+s.run, inst, false), nil); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("subscribe to unknown subject: expected ErrNotFound, got %v", err)
	}
}

func (s *suite) testEvents(t *testing.T) {
	subj := s.newSubject(t, "events")
	sub := s.newSub(subj.Id, "evt-inst-"+s.run, true)
	if _, err := s.adp.SubsCreate(sub, nil); err != nil {
		t.Fatal(err)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		uid := s.ugen.Get()
		evt := &types.Event{Subscription: sub.Id, Seq: s.ugen.DecodeUid(uid), Payload: []byte(fmt.Sprintf(`{"n":%d}`, i))}
		evt.SetUid(uid)
		evt.InitTimes()
		if err := s.adp.EventEnqueue(evt); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, evt.Id)
	}

	got, err := s.adp.EventDrain(sub.Id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Id != ids[0] || string(got[2].Payload) != `{"n":2}` {
		t.Fatalf("unexpected drain result %+v", got)
	}

	got, _ = s.adp.EventDrain(sub.Id, []string{ids[0], ids[2], "unknown"})
	if len(got) != 1 || got[0].Id != ids[1] {
		t.Errorf("acked events must be excluded, got %+v", got)
	}
	got, _ = s.adp.EventDrain(sub.Id, nil)
	if len(got) != 1 || got[0].Id != ids[1] {
		t.Errorf("acked events must never come back, got %+v", got)
	}

	if err := s.adp.SubsDeleteById(sub.Id); err != nil {
		t.Fatal(err)
	}
	if got, _ = s.adp.EventDrain(sub.Id, nil); len(got) != 0 {
		t.Errorf("events of a deleted subscription must be gone, got %+v", got)
	}
	orphan := &types.Event{Subscription: sub.Id, Seq: 1, Payload: []byte("{}")}
	orphan.SetUid(s.ugen.Get())
	if err := s.adp.EventEnqueue(orphan); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("enqueue to a deleted subscription: expected ErrNotFound, got %v", err)
	}
}
