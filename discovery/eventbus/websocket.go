// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package eventbus

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"

	log "github.com/hpe-storage/iscsid-core/logger"
	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// WebSocketSink broadcasts every published event to connected subscribers, the concrete
// implementation of the OS service bus port for deployments where the external readiness daemon
// watches discovery progress over a socket instead of the native sysevent channel. Modeled after
// chapi2/chapi_linux.go's HTTP server bring-up, extended from request/response to broadcast.
type WebSocketSink struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*websocket.Conn]chan Event
}

// NewWebSocketSink returns a sink with no subscribers yet; call ServeHTTP from an HTTP route
// (see discovery/httpapi) to let the readiness daemon subscribe.
func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[*websocket.Conn]chan Event),
	}
}

// Publish implements EventSink by fanning the event out to every connected subscriber. A slow or
// dead subscriber never blocks discovery: its channel is buffered and sends are non-blocking.
func (s *WebSocketSink) Publish(subclass Subclass, method model.DiscoveryMethod) {
	evt := Event{
		ID:       uuid.NewV4().String(),
		Subclass: subclass,
		Method:   method,
		Time:     time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			log.Warnf("eventbus: dropping event for slow subscriber %v", conn.RemoteAddr())
		}
	}
}

// ServeHTTP upgrades the connection and streams events to it until the client disconnects.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("eventbus: websocket upgrade failed, err=%v", err)
		return
	}

	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subs[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for evt := range ch {
		if err := conn.WriteJSON(evt); err != nil {
			log.Debugf("eventbus: subscriber write failed, err=%v", err)
			return
		}
	}
}
