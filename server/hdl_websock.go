/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections. A websocket is the push channel of one
 *    client instance: the server writes events, the client sends nothing.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Default period of pings to the peer.
	defaultPingPeriod = 30 * time.Second

	// Maximum number of queued outgoing events per connection.
	sendQueueLimit = 128

	// Channels carry no client messages except control frames.
	maxClientMessageSize = 512
)

// wsConn is a connected push channel.
type wsConn struct {
	ws         *websocket.Conn
	instance   string
	remoteAddr string

	// Outbound events.
	send chan []byte
	// Closed when the connection must be terminated.
	stop     chan struct{}
	stopOnce sync.Once
}

// Queue implements channel.Conn.
func (c *wsConn) Queue(payload []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close implements channel.Conn. Events queued so far are still written.
func (c *wsConn) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *wsConn) readLoop() {
	defer func() {
		c.Close()
		globals.hub.Detach(c.instance, c)
	}()

	pongWait := (globals.pingPeriod * 10) / 9
	c.ws.SetReadLimit(maxClientMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", c.instance, err)
			}
			return
		}
		// Anything the client sends is ignored.
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(globals.pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				return
			}

		case <-c.stop:
			// Flush what is already queued, e.g. the close event.
			for {
				select {
				case msg := <-c.send:
					if !c.write(websocket.TextMessage, msg) {
						return
					}
				default:
					c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *wsConn) write(mt int, msg []byte) bool {
	if err := wsWrite(c.ws, mt, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logs.Err.Println("ws: writeLoop", c.instance, err)
		}
		return false
	}
	return true
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg []byte) error {
	if msg == nil {
		msg = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, msg)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serveChannel(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if req.Method != http.MethodGet {
		writeError(wrt, ErrOperationNotAllowed(now))
		logs.Err.Println("ws: Invalid HTTP method", req.Method)
		return
	}

	instance, ok := globals.hub.Instance(req.FormValue("token"))
	if !ok {
		writeError(wrt, ErrNotFound(now))
		logs.Warn.Println("ws: unknown or expired channel token")
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: Not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to Upgrade ", err)
		return
	}

	conn := &wsConn{
		ws:         ws,
		instance:   instance,
		remoteAddr: remoteAddr(req),
		send:       make(chan []byte, sendQueueLimit),
		stop:       make(chan struct{}),
	}

	logs.Info.Println("ws: channel connected", instance, conn.remoteAddr)

	// Do work in goroutines to return from serveChannel() to release file pointers.
	go conn.writeLoop()

	if err := globals.hub.Attach(instance, conn); err != nil {
		if err != types.ErrNotFound {
			logs.Err.Println("ws: failed to activate instance", instance, err)
		}
		conn.Close()
	}

	// Detaches the connection when the socket is gone.
	go conn.readLoop()
}
