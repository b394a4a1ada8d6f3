// Generic utilities.

package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cosmopolite/cosmopolite/server/logs"
)

// duration is a time.Duration read from config as a string like "90s" or as a number of seconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		val, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = duration(val)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return errors.New("duration must be a string or a number of seconds")
	}
	*d = duration(secs * float64(time.Second))
	return nil
}

// Or returns the duration or def if the duration is not positive.
func (d duration) Or(def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

// Address of the client without the port. X-Forwarded-For is already applied by the
// proxy headers handler if enabled.
func remoteAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// writeJSON sends the value to the client with the given HTTP status.
func writeJSON(wrt http.ResponseWriter, code int, val any) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(code)
	if err := json.NewEncoder(wrt).Encode(val); err != nil {
		logs.Warn.Println("http: failed to write response", err)
	}
}

// writeError sends the error response.
func writeError(wrt http.ResponseWriter, msg *MsgServerError) {
	if msg.Code == http.StatusServiceUnavailable || msg.Code == http.StatusTooManyRequests {
		wrt.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(wrt, msg.Code, msg)
}
