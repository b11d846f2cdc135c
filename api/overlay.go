package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soltomm/boss-fight-pump-fun/hub"
	"github.com/soltomm/boss-fight-pump-fun/orchestrator"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// overlayMessage is an inbound JSON message from an overlay/admin
// client, following the teacher's typed-command shape from
// ws/unified.go's ClientMessage.
type overlayMessage struct {
	Type          string `json:"type"`
	AdminKey      string `json:"adminKey"`
	WalletAddress string `json:"walletAddress"`
}

// HandleOverlayWS upgrades the connection and bridges it to the hub:
// a writePump forwards published events to the socket, a readPump
// parses inbound admin commands. Grounded on the teacher's
// HandleUnifiedWS/writePump/readPump split (ws/unified.go), replacing
// its channel-subscription model with the hub's single-feed Join/Leave.
func (a *API) HandleOverlayWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ api: websocket upgrade failed: %v", err)
		return
	}

	sub := a.Hub.Join()
	log.Printf("📡 api: overlay subscriber connected (%s)", sub.ID)
	a.recordPresence(sub.ID)

	go a.writePump(conn, sub)
	a.readPump(conn, sub)
}

func (a *API) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer conn.Close()
	for evt := range sub.Recv() {
		payload, err := evt.MarshalForWire()
		if err != nil {
			log.Printf("❌ api: failed to marshal event %s: %v", evt.Kind, err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("❌ api: write error for subscriber %s: %v", sub.ID, err)
			return
		}
	}
}

func (a *API) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		a.Hub.Leave(sub)
		a.clearPresence(sub.ID)
		conn.Close()
		log.Printf("👋 api: overlay subscriber disconnected (%s)", sub.ID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ api: read error for subscriber %s: %v", sub.ID, err)
			}
			return
		}

		var msg overlayMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("❌ api: failed to parse message from subscriber %s: %v", sub.ID, err)
			continue
		}
		if msg.Type == "" {
			continue
		}

		if allowed, err := a.checkAdminRate(msg.WalletAddress); err != nil {
			log.Printf("⚠️  api: admin rate check failed: %v", err)
		} else if !allowed {
			a.Hub.SendTo(sub.ID, hub.Event{Kind: hub.KindAdminError, Data: map[string]string{
				"message": "rate limit exceeded",
			}})
			continue
		}

		a.Orchestrator.HandleAdminCommand(orchestrator.AdminCommand{
			Type:          msg.Type,
			AdminKey:      msg.AdminKey,
			WalletAddress: msg.WalletAddress,
			SubscriberID:  sub.ID,
		})
	}
}

// recordPresence and clearPresence mirror the subscriber's hub
// Join/Leave into Redis, when configured, so a restart or a second
// process can see who is currently connected without replaying the
// hub's in-memory subscriber map.
func (a *API) recordPresence(subscriberID string) {
	if a.Redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Redis.RecordPresence(ctx, subscriberID); err != nil {
		log.Printf("⚠️  api: failed to record presence for %s: %v", subscriberID, err)
	}
}

func (a *API) clearPresence(subscriberID string) {
	if a.Redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Redis.ClearPresence(ctx, subscriberID); err != nil {
		log.Printf("⚠️  api: failed to clear presence for %s: %v", subscriberID, err)
	}
}

// checkAdminRate applies Redis-backed rate limiting when Redis is
// configured; with no Redis, every command is allowed and the
// orchestrator's credential check remains the only guard.
func (a *API) checkAdminRate(wallet string) (bool, error) {
	if a.Redis == nil || wallet == "" {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.Redis.AllowAdminCommand(ctx, wallet)
}
