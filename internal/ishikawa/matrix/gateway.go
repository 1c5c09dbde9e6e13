// Package matrix is the optional chat frontend: it relays room messages into
// the engine and posts the answers back. Each room maps to its own
// conversation thread, so follow-up questions stay scoped to the room.
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/engine"
)

// Config holds the gateway configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are the room IDs the gateway answers in. Messages anywhere else
	// are ignored.
	Rooms []string
}

// Gateway connects a Matrix account to the chat engine.
type Gateway struct {
	client    *mautrix.Client
	config    *Config
	engine    *engine.Engine
	stopCh    chan struct{}
	startedAt time.Time
}

// New creates a Gateway. It does not connect until Start is called.
func New(config *Config, eng *engine.Engine) (*Gateway, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	return &Gateway{
		client: client,
		config: config,
		engine: eng,
		stopCh: make(chan struct{}),
	}, nil
}

// Start joins the configured rooms and begins syncing in the background with
// exponential back-off reconnection. Without retries a transient homeserver
// error would silently kill the sync goroutine and leave the bot deaf.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()

	syncer := g.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, g.handleMessage)

	for _, roomID := range g.config.Rooms {
		if err := g.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", roomID, err)
		}
	}

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin
			if err := g.client.Sync(); err != nil {
				select {
				case <-g.stopCh:
					return
				default:
				}
				slog.Error("matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-g.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			return
		}
	}()

	return nil
}

// Stop disconnects the gateway.
func (g *Gateway) Stop() {
	close(g.stopCh)
	g.client.StopSync()
}

// handleMessage relays one room message through the engine.
func (g *Gateway) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(g.config.UserID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	if !g.answersIn(evt.RoomID.String()) {
		return
	}
	// Without a persistent sync store the homeserver replays room history on
	// reconnect; skip anything sent before this process started.
	if time.UnixMilli(evt.Timestamp).Before(g.startedAt) {
		return
	}

	if err := g.setTyping(ctx, evt.RoomID, true); err != nil {
		slog.Debug("matrix typing indicator failed", "err", err)
	}
	defer g.setTyping(ctx, evt.RoomID, false)

	reply := g.engine.Chat(ctx, evt.RoomID.String(), msg.Body)
	if err := g.sendReply(ctx, evt.RoomID, reply); err != nil {
		slog.Error("matrix reply failed", "room", evt.RoomID, "err", err)
	}
}

// sendReply posts the answer. Charts are attached as a formatted Vega-Lite
// JSON block, since Matrix clients cannot render the spec inline.
func (g *Gateway) sendReply(ctx context.Context, roomID id.RoomID, reply *engine.Reply) error {
	if reply.Chart == nil {
		_, err := g.client.SendText(ctx, roomID, reply.Text)
		return err
	}

	spec, err := json.MarshalIndent(reply.Chart, "", "  ")
	if err != nil {
		_, err := g.client.SendText(ctx, roomID, reply.Text)
		return err
	}

	plain := fmt.Sprintf("%s\n\nVega-Lite chart spec:\n%s", reply.Text, spec)
	formatted := fmt.Sprintf("%s<br><pre><code class=\"language-json\">%s</code></pre>",
		html.EscapeString(reply.Text), html.EscapeString(string(spec)))

	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plain,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
	_, err = g.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	return err
}

func (g *Gateway) setTyping(ctx context.Context, roomID id.RoomID, typing bool) error {
	_, err := g.client.UserTyping(ctx, roomID, typing, 30*time.Second)
	return err
}

func (g *Gateway) answersIn(roomID string) bool {
	for _, r := range g.config.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (g *Gateway) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := g.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN also covers the already-a-member case.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix join denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
