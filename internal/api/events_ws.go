package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"linecare/internal/events"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
)

// EventsWSHandler handles GET /v1/events/ws and streams job and sync events for the company.
// ?types=job.,sync. limits the stream to event types with those prefixes.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	company := requireCompany(w, r)
	if company == "" { return }
	var prefixes []string
	for _, p := range strings.Split(r.URL.Query().Get("types"), ",") {
		if p = strings.TrimSpace(p); p != "" { prefixes = append(prefixes, p) }
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil { return }
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(company)
	defer s.Broker.Unsubscribe(company, ch)

	var wmu sync.Mutex
	write := func(fn func() error) error {
		wmu.Lock(); defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return fn()
	}

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(wsPongWait)); return nil })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg struct{ Type string `json:"type"` }
			if err := conn.ReadJSON(&msg); err != nil { return }
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			if msg.Type == "ping" {
				_ = write(func() error { return conn.WriteJSON(map[string]string{"type": "pong"}) })
			}
		}
	}()

	_ = write(func() error { return conn.WriteJSON(map[string]string{"type": "connection_ack", "companyId": company}) })
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) }); err != nil { return }
		case evt, ok := <-ch:
			if !ok { return }
			if !wanted(evt, prefixes) { continue }
			if err := write(func() error { return conn.WriteJSON(evt) }); err != nil {
				s.Logger.Debug("event stream write failed", zap.String("company_id", company), zap.Error(err))
				return
			}
		}
	}
}

func wanted(evt events.Event, prefixes []string) bool {
	if len(prefixes) == 0 { return true }
	for _, p := range prefixes {
		if strings.HasPrefix(evt.Type, p) { return true }
	}
	return false
}
