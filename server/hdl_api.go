/******************************************************************************
 *
 *  Description :
 *
 *    Handler of API requests: a batch of commands from one client instance.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cosmopolite/cosmopolite/server/broker"
	"github.com/cosmopolite/cosmopolite/server/events"
	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

const (
	// Maximum size of the request body.
	maxRequestSize = 1 << 20
	// Value of Retry-After when the request failed for a transient reason.
	retryAfterSeconds = 1
)

func serveAPI(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if req.Method != http.MethodPost {
		writeError(wrt, ErrOperationNotAllowed(now))
		return
	}

	var msg MsgClientRequest
	dec := json.NewDecoder(http.MaxBytesReader(wrt, req.Body, maxRequestSize))
	if err := dec.Decode(&msg); err != nil {
		logs.Warn.Println("api: failed to parse request", err)
		writeError(wrt, ErrMalformed("malformed request", now))
		return
	}
	// Arguments are validated before any command runs.
	for _, cmd := range msg.Commands {
		if cmd == nil {
			writeError(wrt, ErrMalformed("", now))
			return
		}
		if err := cmd.parse(); err != nil {
			logs.Warn.Println("api: invalid command", cmd.Command, err)
			writeError(wrt, ErrMalformed(cmd.Command+": "+err.Error(), now))
			return
		}
	}

	resp := &MsgServerResponse{
		Status:    "ok",
		Responses: []*MsgCommandResult{},
		Events:    []events.Event{},
	}
	if msg.ClientId == "" {
		msg.ClientId = uuid.NewString()
		resp.ClientId = msg.ClientId
	}
	if msg.InstanceId == "" {
		msg.InstanceId = uuid.NewString()
		resp.InstanceId = msg.InstanceId
	}

	if !globals.limiter.Allow(msg.ClientId) {
		logs.Warn.Println("api: rate limit exceeded", msg.ClientId)
		writeError(wrt, ErrTooManyRequests(now))
		return
	}

	if err := checkInstanceMode(msg.InstanceId, msg.Commands); err != nil {
		if !errors.Is(err, types.ErrMalformed) {
			logs.Err.Println("api: failed to check instance", msg.InstanceId, err)
		}
		writeError(wrt, failedRequest(err, now))
		return
	}

	who, err := resolveIdentity(req, msg.ClientId)
	if err != nil {
		writeError(wrt, failedRequest(err, now))
		return
	}
	resp.Profile = who.Profile.String()

	for _, cmd := range msg.Commands {
		res, evs, err := dispatch(who, msg.InstanceId, cmd)
		if !commandOutcome(res, err) {
			statsCommand(cmd.Command, "error")
			logs.Err.Println("api: command failed", cmd.Command, msg.InstanceId, err)
			writeError(wrt, failedRequest(err, now))
			return
		}
		statsCommand(cmd.Command, res.Result)
		resp.Responses = append(resp.Responses, res)
		resp.Events = append(resp.Events, evs...)
	}

	resp.Time = unixSeconds(time.Now())
	writeJSON(wrt, http.StatusOK, resp)
}

// resolveIdentity finds or creates the client and reconciles it with the account verified
// by the front proxy.
func resolveIdentity(req *http.Request, clientId string) (*broker.Identity, error) {
	var account string
	if globals.accountHeader != "" {
		account = req.Header.Get(globals.accountHeader)
	}

	cl, prof, err := store.Clients.Resolve(clientId, account)
	if err != nil {
		return nil, err
	}
	return &broker.Identity{
		Profile: prof.Uid(),
		Client:  cl.Id,
		Account: prof.Account,
		Admin:   account != "" && globals.admins[account],
		Address: remoteAddr(req),
	}, nil
}

// checkInstanceMode rejects a batch which asks for both delivery modes, or for the mode
// an existing instance does not have.
func checkInstanceMode(instance string, cmds []*MsgClientCommand) error {
	var poll, push bool
	for _, cmd := range cmds {
		switch cmd.Command {
		case cmdPoll:
			poll = true
		case cmdCreateChannel:
			push = true
		}
	}
	if !poll && !push {
		return nil
	}
	if poll && push {
		return types.ErrMalformed
	}
	inst, err := store.Instances.Get(instance)
	if err != nil || inst == nil {
		return err
	}
	if inst.Polling != poll {
		return types.ErrMalformed
	}
	return nil
}

// dispatch executes one command on behalf of the instance.
func dispatch(who *broker.Identity, instance string, cmd *MsgClientCommand) (*MsgCommandResult, []events.Event, error) {
	res := &MsgCommandResult{}
	switch args := cmd.args.(type) {
	case *MsgCreateChannelArgs:
		token, evs, err := globals.broker.CreateChannel(who, instance)
		res.Token = token
		return res, evs, err

	case *MsgPollArgs:
		evs, err := globals.broker.Poll(who, instance, args.Ack)
		return res, evs, err

	case *MsgSendMessageArgs:
		msg, err := globals.broker.SendMessage(who, *args.Subject, *args.Message, args.SenderMessageId)
		if msg != nil {
			res.Message = msg
		}
		return res, nil, err

	case *MsgPinArgs:
		pin, err := globals.broker.Pin(who, instance, *args.Subject, *args.Message, args.SenderMessageId)
		res.Pin = pin
		return res, nil, err

	case *MsgUnpinArgs:
		return res, nil, globals.broker.Unpin(who, instance, *args.Subject, args.SenderMessageId)

	case *MsgSubscribeArgs:
		evs, err := globals.broker.Subscribe(who, instance, *args.Subject, args.Messages, args.LastId)
		return res, evs, err

	case *MsgUnsubscribeArgs:
		return res, nil, globals.broker.Unsubscribe(who, instance, *args.Subject)
	}
	return nil, nil, types.ErrMalformed
}

// commandOutcome sets the result of the command from its error. Returns false if the error
// is not a command result and the request must fail.
func commandOutcome(res *MsgCommandResult, err error) bool {
	var dup *broker.DuplicateError
	switch {
	case res == nil:
		return false
	case err == nil:
		res.Result = resultOk
	case errors.As(err, &dup):
		res.Result = resultDuplicateMessage
		res.Message = dup.Original
		res.Pin = nil
	case errors.Is(err, types.ErrRetry):
		res.Result = resultRetry
	case errors.Is(err, types.ErrAccessDenied):
		res.Result = resultAccessDenied
	default:
		return false
	}
	return true
}

// failedRequest converts an error which aborted the request to the response.
func failedRequest(err error, ts time.Time) *MsgServerError {
	if errors.Is(err, types.ErrMalformed) {
		return ErrMalformed("", ts)
	}
	return ErrServiceUnavailable(ts)
}
