package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BikeshR/menorepo-sub007/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var defaultStreamKinds = []events.Kind{events.KindOrder, events.KindFill, events.KindSystem}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is the frame pushed to websocket clients.
type wsEnvelope struct {
	Kind      events.Kind    `json:"kind"`
	Symbol    string         `json:"symbol,omitempty"`
	Timestamp time.Time      `json:"ts"`
	Payload   events.Payload `json:"payload"`
}

// parseKinds reads a comma separated kinds list; empty means the defaults.
func parseKinds(raw string) ([]events.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultStreamKinds, nil
	}
	seen := make(map[events.Kind]bool)
	var out []events.Kind
	for _, part := range strings.Split(raw, ",") {
		k, err := events.ParseKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

// websocket streams bus events to the client until either side goes away.
func (s *Server) websocket(c *gin.Context) {
	if s.deps.Bus == nil {
		unavailable(c, "event bus")
		return
	}
	kinds, err := parseKinds(c.Query("kinds"))
	if err != nil {
		badPayload(c, err)
		return
	}

	subs := make([]*events.Subscription, 0, len(kinds))
	for _, k := range kinds {
		sub, err := s.deps.Bus.Subscribe(k)
		if err != nil {
			for _, prev := range subs {
				prev.Unsubscribe()
			}
			respondError(c, err)
			return
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("api: ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.log.Infow("api: ws client connected", "ip", c.ClientIP(), "kinds", kinds)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reader: handles pongs and notices the client closing.
	go func() {
		defer cancel()
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	out := make(chan events.Event)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *events.Subscription) {
			defer wg.Done()
			for {
				ev, ok := sub.Next(ctx)
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsEnvelope{
				Kind:      ev.Kind(),
				Symbol:    ev.Symbol(),
				Timestamp: ev.Timestamp(),
				Payload:   ev.Payload(),
			}); err != nil {
				s.log.Debugw("api: ws write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
