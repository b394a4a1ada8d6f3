package main

/******************************************************************************
 *
 *  Description :
 *
 *    Wire protocol structures
 *
 *****************************************************************************/

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cosmopolite/cosmopolite/server/events"
	"github.com/cosmopolite/cosmopolite/server/store"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

// Command names.
const (
	cmdCreateChannel = "createChannel"
	cmdPoll          = "poll"
	cmdSendMessage   = "sendMessage"
	cmdPin           = "pin"
	cmdUnpin         = "unpin"
	cmdSubscribe     = "subscribe"
	cmdUnsubscribe   = "unsubscribe"
)

// Command results.
const (
	resultOk               = "ok"
	resultRetry            = "retry"
	resultDuplicateMessage = "duplicate_message"
	resultAccessDenied     = "access_denied"
)

// MsgClientRequest is a batch of commands sent by a client instance.
type MsgClientRequest struct {
	// Client id. Generated by the server if missing.
	ClientId string `json:"client_id,omitempty"`
	// Instance id, i.e. one page load or app start. Generated by the server if missing.
	InstanceId string              `json:"instance_id,omitempty"`
	Commands   []*MsgClientCommand `json:"commands"`
}

// MsgClientCommand is a single command of a batch.
type MsgClientCommand struct {
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Parsed and validated arguments, one of the Msg*Args types.
	args any
}

// MsgCreateChannelArgs has no arguments.
type MsgCreateChannelArgs struct{}

// MsgPollArgs acknowledges previously received buffered events.
type MsgPollArgs struct {
	Ack []string `json:"ack,omitempty"`
}

// MsgSendMessageArgs appends a message to a subject.
type MsgSendMessageArgs struct {
	Subject         *events.Subject `json:"subject"`
	Message         *string         `json:"message"`
	SenderMessageId string          `json:"sender_message_id"`
}

// MsgPinArgs pins a message to a subject for as long as the instance lives.
type MsgPinArgs struct {
	Subject         *events.Subject `json:"subject"`
	Message         *string         `json:"message"`
	SenderMessageId string          `json:"sender_message_id"`
}

// MsgUnpinArgs removes a pin created by the instance.
type MsgUnpinArgs struct {
	Subject         *events.Subject `json:"subject"`
	SenderMessageId string          `json:"sender_message_id"`
}

// MsgSubscribeArgs subscribes the instance to a subject.
type MsgSubscribeArgs struct {
	Subject *events.Subject `json:"subject"`
	// Number of most recent messages to return, negative for all.
	Messages int `json:"messages,omitempty"`
	// Return all messages with ids greater than this one.
	LastId *int64 `json:"last_id,omitempty"`
}

// MsgUnsubscribeArgs removes the instance's subscription.
type MsgUnsubscribeArgs struct {
	Subject *events.Subject `json:"subject"`
}

var errMalformedCommand = errors.New("malformed command")

// A restriction is empty, "me", "admin" or a profile id.
func validRestriction(owner string) bool {
	return owner == "" || owner == events.Me || owner == types.AdminOwner || !types.ParseUid(owner).IsZero()
}

func validSubject(s *events.Subject) bool {
	return s != nil && store.NormalizeSubjectName(s.Name) != "" &&
		validRestriction(s.ReadableOnlyBy) && validRestriction(s.WritableOnlyBy)
}

// parse decodes and validates the arguments of the command.
func (cmd *MsgClientCommand) parse() error {
	var valid func() bool
	switch cmd.Command {
	case cmdCreateChannel:
		args := &MsgCreateChannelArgs{}
		cmd.args, valid = args, func() bool { return true }
	case cmdPoll:
		args := &MsgPollArgs{}
		cmd.args, valid = args, func() bool { return true }
	case cmdSendMessage:
		args := &MsgSendMessageArgs{}
		cmd.args, valid = args, func() bool {
			return validSubject(args.Subject) && args.Message != nil && args.SenderMessageId != ""
		}
	case cmdPin:
		args := &MsgPinArgs{}
		cmd.args, valid = args, func() bool {
			return validSubject(args.Subject) && args.Message != nil && args.SenderMessageId != ""
		}
	case cmdUnpin:
		args := &MsgUnpinArgs{}
		cmd.args, valid = args, func() bool {
			return validSubject(args.Subject) && args.SenderMessageId != ""
		}
	case cmdSubscribe:
		args := &MsgSubscribeArgs{}
		cmd.args, valid = args, func() bool { return validSubject(args.Subject) }
	case cmdUnsubscribe:
		args := &MsgUnsubscribeArgs{}
		cmd.args, valid = args, func() bool { return validSubject(args.Subject) }
	default:
		return errors.New("unknown command '" + cmd.Command + "'")
	}

	if len(cmd.Arguments) > 0 && string(cmd.Arguments) != "null" {
		if err := json.Unmarshal(cmd.Arguments, cmd.args); err != nil {
			return err
		}
	}
	if !valid() {
		return errMalformedCommand
	}
	return nil
}

// MsgCommandResult is the outcome of a single command.
type MsgCommandResult struct {
	Result string `json:"result"`
	// Channel token, createChannel only.
	Token string `json:"token,omitempty"`
	// The new message, or the original one of a duplicate message or pin.
	Message events.Event `json:"message,omitempty"`
	// The new pin.
	Pin *events.Pin `json:"pin,omitempty"`
}

// MsgServerResponse is the response to a batch of commands.
type MsgServerResponse struct {
	Status string `json:"status"`
	// Profile of the caller after the identity is resolved.
	Profile string `json:"profile"`
	// Server time, seconds since epoch.
	Time float64 `json:"time"`
	// Ids generated by the server for this request.
	ClientId   string `json:"client_id,omitempty"`
	InstanceId string `json:"instance_id,omitempty"`
	// One result per command.
	Responses []*MsgCommandResult `json:"responses"`
	// Events produced by all commands of the batch, in order.
	Events []events.Event `json:"events"`
}

// MsgServerError reports a request that was rejected as a whole.
type MsgServerError struct {
	Status    string    `json:"status"`
	Code      int       `json:"code"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// ErrMalformed request malformed (400).
func ErrMalformed(text string, ts time.Time) *MsgServerError {
	if text == "" {
		text = "malformed"
	}
	return &MsgServerError{Status: "error", Code: http.StatusBadRequest, Text: text, Timestamp: ts}
}

// ErrNotFound resource not found (404).
func ErrNotFound(ts time.Time) *MsgServerError {
	return &MsgServerError{Status: "error", Code: http.StatusNotFound, Text: "not found", Timestamp: ts}
}

// ErrOperationNotAllowed HTTP method not allowed (405).
func ErrOperationNotAllowed(ts time.Time) *MsgServerError {
	return &MsgServerError{Status: "error", Code: http.StatusMethodNotAllowed, Text: "method not allowed", Timestamp: ts}
}

// ErrTooManyRequests client exceeded the rate limit (429).
func ErrTooManyRequests(ts time.Time) *MsgServerError {
	return &MsgServerError{Status: "error", Code: http.StatusTooManyRequests, Text: "too many requests", Timestamp: ts}
}

// ErrServiceUnavailable transient failure, the client should retry the request (503).
func ErrServiceUnavailable(ts time.Time) *MsgServerError {
	return &MsgServerError{Status: "error", Code: http.StatusServiceUnavailable, Text: "service unavailable", Timestamp: ts}
}
