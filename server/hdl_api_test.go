package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cosmopolite/cosmopolite/server/store"
)

const testStoreConfig = `{
	"uid_key": "la6YsO+bNX/+XIkOqc5Svw==",
	"use_adapter": "pebble",
	"adapters": {"pebble": {"in_memory": true, "fsync": false}}
}`

const testAccountHeader = "X-Verified-Account"

var testServer *httptest.Server

func TestMain(m *testing.M) {
	if err := store.Store.Open(1, json.RawMessage(testStoreConfig)); err != nil {
		log.Fatal("failed to open store: ", err)
	}

	config := &configType{
		ApiPath:       "/v0/",
		MetricsPath:   "/metrics",
		PprofPath:     "/debug/pprof",
		AccountHeader: testAccountHeader,
		AdminAccounts: []string{"root@example.com"},
		RateLimit:     &rateLimitConfig{RPS: -1},
		FanoutWorkers: 4,
		FanoutQueue:   16,
	}
	initGlobals(config)
	handler, err := newHandler(config)
	if err != nil {
		log.Fatal(err)
	}
	testServer = httptest.NewServer(handler)

	code := m.Run()

	testServer.Close()
	globals.hub.Shutdown()
	globals.broker.Stop()
	store.Store.Close()
	os.Exit(code)
}

type testResponse struct {
	Status     string           `json:"status"`
	Profile    string           `json:"profile"`
	Time       float64          `json:"time"`
	ClientId   string           `json:"client_id"`
	InstanceId string           `json:"instance_id"`
	Responses  []map[string]any `json:"responses"`
	Events     []map[string]any `json:"events"`
	Code       int              `json:"code"`
}

type command struct {
	Command   string `json:"command"`
	Arguments any    `json:"arguments,omitempty"`
}

type request struct {
	ClientId   string    `json:"client_id,omitempty"`
	InstanceId string    `json:"instance_id,omitempty"`
	Commands   []command `json:"commands"`
}

func postRaw(t *testing.T, account string, body []byte) (*http.Response, *testResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, testServer.URL+"/v0/api", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if account != "" {
		req.Header.Set(testAccountHeader, account)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out testResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal("failed to decode response:", err)
	}
	return resp, &out
}

// call sends the commands and fails the test unless the request succeeds.
func call(t *testing.T, account, client, instance string, cmds ...command) *testResponse {
	t.Helper()
	body, _ := json.Marshal(&request{ClientId: client, InstanceId: instance, Commands: cmds})
	resp, out := postRaw(t, account, body)
	if resp.StatusCode != http.StatusOK || out.Status != "ok" {
		t.Fatalf("request failed: HTTP %d, %+v", resp.StatusCode, out)
	}
	if len(out.Responses) != len(cmds) {
		t.Fatalf("expected %d responses, got %d", len(cmds), len(out.Responses))
	}
	return out
}

func subject(name string) map[string]any {
	return map[string]any{"name": name}
}

func eventTypes(evs []map[string]any) []string {
	var names []string
	for _, ev := range evs {
		names = append(names, ev["event_type"].(string))
	}
	return names
}

func messagesOf(evs []map[string]any) []string {
	var texts []string
	for _, ev := range evs {
		if ev["event_type"] == "message" {
			texts = append(texts, ev["message"].(string))
		}
	}
	return texts
}

func TestSendAndPoll(t *testing.T) {
	room := subject(t.Name())

	out := call(t, "", "reader", "reader-1",
		command{Command: "poll"},
		command{Command: "subscribe", Arguments: map[string]any{"subject": room, "messages": -1}})
	if got := eventTypes(out.Events); len(got) != 1 || got[0] != "logout" {
		t.Fatalf("expected only a logout event, got %v", got)
	}
	if out.Responses[1]["result"] != "ok" {
		t.Fatalf("subscribe: %v", out.Responses[1])
	}

	send := command{Command: "sendMessage", Arguments: map[string]any{
		"subject": room, "message": "hi", "sender_message_id": "m1"}}
	out = call(t, "", "writer", "writer-1", send)
	if out.Responses[0]["result"] != "ok" {
		t.Fatalf("sendMessage: %v", out.Responses[0])
	}
	msg := out.Responses[0]["message"].(map[string]any)
	if msg["message"] != "hi" || msg["id"] != float64(1) || msg["event_type"] != "message" {
		t.Errorf("unexpected message event %v", msg)
	}

	out = call(t, "", "writer", "writer-1", send)
	if out.Responses[0]["result"] != "duplicate_message" {
		t.Fatalf("resend: expected duplicate_message, got %v", out.Responses[0])
	}
	if dup := out.Responses[0]["message"].(map[string]any); dup["id"] != msg["id"] {
		t.Errorf("duplicate must return the original, got %v", dup)
	}

	out = call(t, "", "reader", "reader-1", command{Command: "poll"})
	if texts := messagesOf(out.Events); len(texts) != 1 || texts[0] != "hi" {
		t.Fatalf("expected one buffered message, got %v", out.Events)
	}
	eventId, _ := out.Events[1]["event_id"].(string)
	if eventId == "" {
		t.Fatal("buffered event must carry event_id")
	}

	// Unacknowledged events are delivered again.
	out = call(t, "", "reader", "reader-1", command{Command: "poll"})
	if len(messagesOf(out.Events)) != 1 {
		t.Fatalf("unacknowledged event must be redelivered, got %v", out.Events)
	}

	out = call(t, "", "reader", "reader-1",
		command{Command: "poll", Arguments: map[string]any{"ack": []string{eventId}}})
	if len(messagesOf(out.Events)) != 0 {
		t.Errorf("acknowledged event must not be delivered, got %v", out.Events)
	}
}

func TestGeneratedIds(t *testing.T) {
	out := call(t, "", "", "", command{Command: "poll"})
	if out.ClientId == "" || out.InstanceId == "" || out.Profile == "" {
		t.Fatalf("missing generated ids: %+v", out)
	}
	if out.Time <= 0 {
		t.Error("missing server time")
	}

	// The same client keeps its profile.
	again := call(t, "", out.ClientId, out.InstanceId, command{Command: "poll"})
	if again.Profile != out.Profile {
		t.Errorf("profile changed from %s to %s", out.Profile, again.Profile)
	}
	if again.ClientId != "" || again.InstanceId != "" {
		t.Error("ids sent by the client must not be echoed")
	}
}

func TestLoginMerge(t *testing.T) {
	anon := call(t, "", "browser", "browser-1", command{Command: "poll"})

	out := call(t, "alice@example.com", "browser", "browser-1", command{Command: "poll"})
	if out.Events[0]["event_type"] != "login" || out.Events[0]["account"] != "alice@example.com" {
		t.Fatalf("expected login event, got %v", out.Events)
	}
	if out.Profile != anon.Profile {
		t.Error("first login must keep the anonymous profile")
	}

	// Another anonymous client logs into the same account and is merged.
	other := call(t, "", "phone", "phone-1", command{Command: "poll"})
	merged := call(t, "alice@example.com", "phone", "phone-1", command{Command: "poll"})
	if merged.Profile != anon.Profile || merged.Profile == other.Profile {
		t.Errorf("expected profile %s after login, got %s", anon.Profile, merged.Profile)
	}
}

func TestAccessDenied(t *testing.T) {
	owner := call(t, "owner@example.com", "owner", "owner-1", command{Command: "poll"})
	private := map[string]any{"name": t.Name(), "writable_only_by": owner.Profile}

	out := call(t, "", "stranger", "stranger-1", command{Command: "sendMessage", Arguments: map[string]any{
		"subject": private, "message": "spam", "sender_message_id": "s1"}})
	if out.Responses[0]["result"] != "access_denied" {
		t.Errorf("stranger: expected access_denied, got %v", out.Responses[0])
	}

	out = call(t, "owner@example.com", "owner", "owner-1", command{Command: "sendMessage", Arguments: map[string]any{
		"subject": private, "message": "hello", "sender_message_id": "o1"}})
	if out.Responses[0]["result"] != "ok" {
		t.Fatalf("owner: expected ok, got %v", out.Responses[0])
	}
	subj := out.Responses[0]["message"].(map[string]any)["subject"].(map[string]any)
	if subj["writable_only_by"] != "me" {
		t.Errorf("owner must see the restriction as 'me', got %v", subj)
	}

	out = call(t, "root@example.com", "root", "root-1", command{Command: "sendMessage", Arguments: map[string]any{
		"subject": private, "message": "maintenance", "sender_message_id": "r1"}})
	if out.Responses[0]["result"] != "ok" {
		t.Errorf("admin: expected ok, got %v", out.Responses[0])
	}
}

func TestPinRequiresActiveInstance(t *testing.T) {
	pin := command{Command: "pin", Arguments: map[string]any{
		"subject": subject(t.Name()), "message": "here", "sender_message_id": "p1"}}

	out := call(t, "", "pinner", "pinner-1", pin)
	if out.Responses[0]["result"] != "retry" {
		t.Fatalf("pin before poll: expected retry, got %v", out.Responses[0])
	}

	out = call(t, "", "pinner", "pinner-1", command{Command: "poll"}, pin)
	if out.Responses[1]["result"] != "ok" || out.Responses[1]["pin"] == nil {
		t.Fatalf("pin: expected ok, got %v", out.Responses[1])
	}

	out = call(t, "", "watcher", "watcher-1",
		command{Command: "poll"},
		command{Command: "subscribe", Arguments: map[string]any{"subject": subject(t.Name())}})
	if got := eventTypes(out.Events); len(got) != 2 || got[1] != "pin" {
		t.Fatalf("subscribe must backfill the pin, got %v", got)
	}

	out = call(t, "", "pinner", "pinner-1", command{Command: "unpin", Arguments: map[string]any{
		"subject": subject(t.Name()), "sender_message_id": "p1"}})
	if out.Responses[0]["result"] != "ok" {
		t.Fatalf("unpin: %v", out.Responses[0])
	}
	out = call(t, "", "watcher", "watcher-1", command{Command: "poll"})
	if got := eventTypes(out.Events); len(got) != 2 || got[1] != "unpin" {
		t.Errorf("watcher must get an unpin event, got %v", got)
	}
}

func TestMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{"commands": [`},
		{"unknown command", `{"client_id":"c","instance_id":"i","commands":[{"command":"poll"},{"command":"fly"}]}`},
		{"missing subject", `{"client_id":"c","instance_id":"i","commands":[{"command":"sendMessage","arguments":{"message":"x","sender_message_id":"1"}}]}`},
		{"empty subject name", `{"client_id":"c","instance_id":"i","commands":[{"command":"subscribe","arguments":{"subject":{"name":""}}}]}`},
		{"missing message id", `{"client_id":"c","instance_id":"i","commands":[{"command":"pin","arguments":{"subject":{"name":"a"},"message":"x"}}]}`},
		{"wrong argument type", `{"client_id":"c","instance_id":"i","commands":[{"command":"poll","arguments":{"ack":"x"}}]}`},
	}
	for _, tc := range cases {
		resp, out := postRaw(t, "", []byte(tc.body))
		if resp.StatusCode != http.StatusBadRequest || out.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, resp.StatusCode)
		}
	}

	// Nothing of a rejected batch is executed.
	if inst, err := store.Instances.Get("i"); err != nil || inst != nil {
		t.Errorf("instance of a malformed batch must not exist: %v, %v", inst, err)
	}

	// Push and poll don't mix.
	body, _ := json.Marshal(&request{ClientId: "mixer", InstanceId: "mixer-1",
		Commands: []command{{Command: "poll"}, {Command: "createChannel"}}})
	if resp, _ := postRaw(t, "", body); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("createChannel on a polling instance: expected 400, got %d", resp.StatusCode)
	}

	resp, err := http.Get(testServer.URL + "/v0/api")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", resp.StatusCode)
	}
}

func TestRejectedBatchCommitsNothing(t *testing.T) {
	room := subject(t.Name())
	send := func(smid string) command {
		return command{Command: "sendMessage",
			Arguments: map[string]any{"subject": room, "message": "hello", "sender_message_id": smid}}
	}

	cases := []struct {
		name string
		bad  command
	}{
		{"restriction", command{Command: "sendMessage", Arguments: map[string]any{
			"subject":           map[string]any{"name": t.Name(), "readable_only_by": "bob"},
			"message":           "x",
			"sender_message_id": "x"}}},
		{"blank name", command{Command: "subscribe", Arguments: map[string]any{
			"subject": map[string]any{"name": "   "}}}},
		{"mode", command{Command: "createChannel"}},
	}

	// The instance polls, so createChannel conflicts with it.
	call(t, "", "batcher", "batcher-1", command{Command: "poll"})

	for _, tc := range cases {
		smid := "first-" + tc.name
		body, _ := json.Marshal(&request{ClientId: "batcher", InstanceId: "batcher-1",
			Commands: []command{send(smid), tc.bad}})
		if resp, _ := postRaw(t, "", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, resp.StatusCode)
		}
		out := call(t, "", "batcher", "batcher-1", send(smid))
		if got := out.Responses[0]["result"]; got != "ok" {
			t.Errorf("%s: first command of the rejected batch was executed: %v", tc.name, got)
		}
	}
}

func TestRestrictionValues(t *testing.T) {
	profile := call(t, "", "restricted", "restricted-1").Profile
	for _, owner := range []string{"", "me", "admin", profile} {
		call(t, "", "restricted", "restricted-1", command{Command: "subscribe", Arguments: map[string]any{
			"subject": map[string]any{"name": t.Name(), "readable_only_by": owner}}})
	}
}

func TestRateLimit(t *testing.T) {
	saved := globals.limiter
	globals.limiter = newClientLimiter(&rateLimitConfig{RPS: 0.001, Burst: 1})
	defer func() { globals.limiter = saved }()

	body, _ := json.Marshal(&request{ClientId: "greedy", InstanceId: "greedy-1", Commands: []command{{Command: "poll"}}})
	if resp, _ := postRaw(t, "", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", resp.StatusCode)
	}
	resp, _ := postRaw(t, "", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestMetrics(t *testing.T) {
	call(t, "", "counted", "counted-1", command{Command: "poll"})

	resp, err := http.Get(testServer.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `cosmo_commands_total{command="poll",result="ok"}`) {
		t.Error("command counter is not exposed")
	}
	if !strings.Contains(buf.String(), "cosmo_build_info") {
		t.Error("build info is not exposed")
	}
}

func TestPprof(t *testing.T) {
	for path, want := range map[string]int{
		"/debug/pprof/":          http.StatusOK,
		"/debug/pprof/goroutine": http.StatusOK,
		"/debug/pprof/nothing":   http.StatusNotFound,
	} {
		resp, err := http.Get(testServer.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestNotFound(t *testing.T) {
	resp, err := http.Get(testServer.URL + "/nowhere")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func channelURL(token string) string {
	return "ws" + strings.TrimPrefix(testServer.URL, "http") + "/v0/channel?token=" + token
}

// readEvent reads the next event from the channel.
func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev map[string]any
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatal("failed to read event:", err)
	}
	return ev
}

func TestChannel(t *testing.T) {
	room := subject(t.Name())

	out := call(t, "", "pushed", "pushed-1", command{Command: "createChannel"})
	token, _ := out.Responses[0]["token"].(string)
	if token == "" {
		t.Fatalf("missing token: %v", out.Responses[0])
	}
	if got := eventTypes(out.Events); len(got) != 1 || got[0] != "logout" {
		t.Errorf("expected logout event, got %v", got)
	}

	ws, _, err := websocket.DefaultDialer.Dial(channelURL(token), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	// The instance becomes active once the server has registered the channel.
	subscribe := command{Command: "subscribe", Arguments: map[string]any{"subject": room}}
	deadline := time.Now().Add(3 * time.Second)
	for {
		out = call(t, "", "pushed", "pushed-1", subscribe)
		if out.Responses[0]["result"] == "ok" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("instance never became active: %v", out.Responses[0])
		}
		time.Sleep(10 * time.Millisecond)
	}

	call(t, "", "talker", "talker-1", command{Command: "sendMessage", Arguments: map[string]any{
		"subject": room, "message": "pushed", "sender_message_id": "t1"}})
	ev := readEvent(t, ws)
	if ev["event_type"] != "message" || ev["message"] != "pushed" {
		t.Errorf("unexpected pushed event %v", ev)
	}
	if _, ok := ev["event_id"]; ok {
		t.Error("pushed events carry no event_id")
	}

	// Closing the channel tears the instance down.
	ws.Close()
	deadline = time.Now().Add(3 * time.Second)
	for {
		inst, err := store.Instances.Get("pushed-1")
		if err != nil {
			t.Fatal(err)
		}
		if inst == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("instance was not deleted after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChannelRejected(t *testing.T) {
	_, resp, err := websocket.DefaultDialer.Dial(channelURL("bogus"), nil)
	if err == nil {
		t.Fatal("unknown token must be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown token: expected 404, got %v", resp)
	}

	// A token for an instance which does not exist gets a close event.
	token, err := globals.hub.Open("ghost-instance")
	if err != nil {
		t.Fatal(err)
	}
	ws, _, err := websocket.DefaultDialer.Dial(channelURL(token), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if ev := readEvent(t, ws); ev["event_type"] != "close" {
		t.Errorf("expected close event, got %v", ev)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("server must close the channel")
	}
}
