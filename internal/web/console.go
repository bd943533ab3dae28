package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/fridge-controller/internal/shell"
)

const (
	wsSendBufferSize = 256
	wsMaxMessageSize = 1024
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 10 * time.Second
)

var errOutputFull = errors.New("console output backlog full")

// upgrader keeps gorilla's same-origin check: a page served from another
// origin cannot open a shell.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleConsole runs a remote shell session over a WebSocket, one text
// frame per line in each direction.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	out := make(chan string, wsSendBufferSize)
	lw := shell.NewLineWriter(func(line string) error {
		select {
		case out <- line:
			return nil
		default:
			return errOutputFull
		}
	})
	sess, err := s.shell.Open("ws:"+r.RemoteAddr, lw, shell.User, false)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	go s.writePump(conn, out, sess.Done())
	s.readPump(conn, sess)
}

func (s *Server) readPump(conn *websocket.Conn, sess *shell.Session) {
	defer func() {
		sess.Close()
		conn.Close()
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnf("WebSocket read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
		if !sess.Send(append(message, '\n')) {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, out <-chan string, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(line string) bool {
		conn.SetWriteDeadline(time.Now().Add(wsPongWait))
		return conn.WriteMessage(websocket.TextMessage, []byte(line)) == nil
	}

	for {
		select {
		case line := <-out:
			if !write(line) {
				return
			}
		case <-done:
			for {
				select {
				case line := <-out:
					if !write(line) {
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(wsPongWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
