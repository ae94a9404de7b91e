package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 5 / 6
	maxInbound   = 512
	sendCapacity = 16
)

// Client is one screen following an operator's drawer. Clients only receive;
// inbound frames are read solely to process pongs and close frames.
type Client struct {
	hub        *Hub
	operatorID string
	conn       *websocket.Conn
	send       chan []byte
	closeOnce  sync.Once
}

// ServeWS upgrades the request and streams balance updates for operatorID
// until the connection drops.
func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, operatorID string) {
	upgrader := websocket.Upgrader{CheckOrigin: hub.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("operator_id", operatorID).Msg("websocket upgrade failed")
		return
	}
	client := &Client{
		hub:        hub,
		operatorID: operatorID,
		conn:       conn,
		send:       make(chan []byte, sendCapacity),
	}
	hub.Register(operatorID, client)
	log.Debug().Str("operator_id", operatorID).Int("connections", hub.Connections(operatorID)).Msg("register screen attached")
	go client.writeLoop()
	client.readLoop()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c.operatorID, c)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("operator_id", c.operatorID).Msg("register screen dropped")
			}
			return
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		var err error
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			err = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			return
		}
	}
}
