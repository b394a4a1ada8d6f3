package pebble

import (
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Keyspace layout (byte-wise, lexicographically sortable). Ids chosen by callers
// (client, instance, account, sender message id) are hex-encoded so they never
// contain the separator.
//
//	kvmeta/version
//	p/{profile}                         profile
//	pa/{account}                        account -> profile id
//	c/{client}                          client
//	i/{instance}                        instance
//	ip/{last_poll_be8}/{instance}       polling instances by last poll time
//	s/{subject}                         subject
//	m/{subject}/{id_be8}                message
//	md/{subject}/{sender_message_id}    message dedup -> id_be8
//	ms/{sender}/{subject}/{id_be8}      messages by sender
//	n/{subject}/{pin}                   pin
//	nd/{subject}/{sender_message_id}/{instance}  pin dedup -> pin id
//	ni/{instance}/{subject}/{pin}       pins by instance
//	b/{subject}/{sub}                   subscription
//	bk/{subject}/{instance}/{flags}     subscription identity -> sub id
//	bi/{instance}/{subject}/{sub}       subscriptions by instance
//	bx/{sub}                            sub id -> subject
//	e/{sub}/{seq_be8}                   buffered event

const sep = byte('/')

var (
	keyVersion = []byte("kvmeta/version")

	pfxProfile      = "p"
	pfxAccount      = "pa"
	pfxClient       = "c"
	pfxInstance     = "i"
	pfxPollIndex    = "ip"
	pfxSubject      = "s"
	pfxMessage      = "m"
	pfxMessageDedup = "md"
	pfxMessageBy    = "ms"
	pfxPin          = "n"
	pfxPinDedup     = "nd"
	pfxPinByInst    = "ni"
	pfxSub          = "b"
	pfxSubKey       = "bk"
	pfxSubByInst    = "bi"
	pfxSubIndex     = "bx"
	pfxEvent        = "e"
)

func esc(s string) string {
	return hex.EncodeToString([]byte(s))
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// key joins parts with the separator. A trailing empty part produces a prefix ending with '/'.
func key(prefix string, parts ...string) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	k := make([]byte, 0, size+8)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, sep)
		k = append(k, p...)
	}
	return k
}

// seqKey builds {prefix}/{parts...}/{be8}.
func seqKey(v uint64, prefix string, parts ...string) []byte {
	k := key(prefix, parts...)
	k = append(k, sep)
	return appendBE8(k, v)
}

// seqFromKey returns the trailing big-endian sequence number of a key.
func seqFromKey(k []byte) uint64 {
	if len(k) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// prefixEnd returns the smallest key greater than every key starting with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func profileKey(id string) []byte   { return key(pfxProfile, id) }
func accountKey(acc string) []byte  { return key(pfxAccount, esc(acc)) }
func clientKey(id string) []byte    { return key(pfxClient, esc(id)) }
func instanceKey(id string) []byte  { return key(pfxInstance, esc(id)) }
func subjectKey(id string) []byte   { return key(pfxSubject, id) }
func subIndexKey(id string) []byte  { return key(pfxSubIndex, id) }
func eventPrefix(sub string) []byte { return key(pfxEvent, sub, "") }

func pollIndexKey(when time.Time, inst string) []byte {
	k := append(key(pfxPollIndex), sep)
	k = appendBE8(k, uint64(when.UnixNano()))
	k = append(k, sep)
	return append(k, esc(inst)...)
}

func messageKey(subj string, id int64) []byte {
	return seqKey(uint64(id), pfxMessage, subj)
}

func messageDedupKey(subj, smid string) []byte {
	return key(pfxMessageDedup, subj, esc(smid))
}

func messageBySenderKey(sender, subj string, id int64) []byte {
	return seqKey(uint64(id), pfxMessageBy, sender, subj)
}

func pinKey(subj, pin string) []byte {
	return key(pfxPin, subj, pin)
}

func pinDedupKey(subj, smid, inst string) []byte {
	return key(pfxPinDedup, subj, esc(smid), esc(inst))
}

func pinByInstanceKey(inst, subj, pin string) []byte {
	return key(pfxPinByInst, esc(inst), subj, pin)
}

func subKey(subj, sub string) []byte {
	return key(pfxSub, subj, sub)
}

func subFlags(readableByMe, writableByMe bool) string {
	flags := []byte("--")
	if readableByMe {
		flags[0] = 'r'
	}
	if writableByMe {
		flags[1] = 'w'
	}
	return string(flags)
}

func subIdentityKey(subj, inst string, readableByMe, writableByMe bool) []byte {
	return key(pfxSubKey, subj, esc(inst), subFlags(readableByMe, writableByMe))
}

func subByInstanceKey(inst, subj, sub string) []byte {
	return key(pfxSubByInst, esc(inst), subj, sub)
}

func eventKey(sub string, seq int64) []byte {
	return seqKey(uint64(seq), pfxEvent, sub)
}
