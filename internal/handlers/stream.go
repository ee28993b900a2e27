package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/middleware"
	"github.com/ukydev/fleet-ops/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotMessage carries the complete current contents of a collection view.
type SnapshotMessage struct {
	Collection string      `json:"collection"`
	Sequence   int         `json:"sequence"`
	Items      interface{} `json:"items"`
	At         time.Time   `json:"at"`
}

// StreamHandler pushes live collection snapshots over WebSocket.
type StreamHandler struct {
	store *db.Store
}

// NewStreamHandler creates a stream handler over store
func NewStreamHandler(store *db.Store) *StreamHandler {
	return &StreamHandler{store: store}
}

// Stream serves GET /api/stream/{collection}. Drivers only see their own trips.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	collection := r.PathValue("collection")
	action, known := streamActions[collection]
	if !known {
		http.Error(w, "Unknown collection", http.StatusNotFound)
		return
	}
	if !models.RoleAllows(claims.Role, action) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}

	switch collection {
	case db.DriversCollection:
		serveSnapshots(w, r, h.store.Drivers, db.All, nil)
	case db.VehiclesCollection:
		serveSnapshots(w, r, h.store.Vehicles, db.All, nil)
	case db.TripsCollection:
		filter := db.All
		if claims.Role == models.RoleDriver {
			filter = db.Where("driver", db.OpEq, claims.DriverID)
		}
		serveSnapshots(w, r, h.store.Trips, filter, nil)
	case db.MaintenanceCollection:
		serveSnapshots(w, r, h.store.Maintenance, db.All, nil)
	case db.InventoryCollection:
		serveSnapshots(w, r, h.store.Inventory, db.All, func(items []models.InventoryItem) interface{} {
			return fleet.MergeByName(items)
		})
	}
}

var streamActions = map[string]string{
	db.DriversCollection:     models.ActionViewFleet,
	db.VehiclesCollection:    models.ActionViewFleet,
	db.TripsCollection:       models.ActionViewFleet,
	db.MaintenanceCollection: models.ActionViewMaintenance,
	db.InventoryCollection:   models.ActionViewInventory,
}

// serveSnapshots upgrades the connection and writes every snapshot of coll
// until the peer goes away. view reshapes a snapshot before it is sent.
func serveSnapshots[T any](w http.ResponseWriter, r *http.Request, coll *db.Collection[T], filter db.Filter, view func([]T) interface{}) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, sub, err := coll.Snapshots(ctx, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade WebSocket")
		return
	}
	defer conn.Close()

	logger := log.WithFields(log.Fields{"collection": coll.Name(), "remote": r.RemoteAddr})
	logger.Info("Stream opened")
	defer logger.Info("Stream closed")

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case items, ok := <-snapshots:
			if !ok {
				if err := sub.Err(); err != nil {
					logger.WithError(err).Warn("Subscription ended")
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"))
				return
			}
			seq++
			msg := SnapshotMessage{Collection: coll.Name(), Sequence: seq, Items: items, At: time.Now().UTC()}
			if view != nil {
				msg.Items = view(items)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.WithError(err).Debug("Write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the peer so pongs and close frames are processed, and
// cancels the stream once the peer is gone.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("WebSocket read error")
			}
			return
		}
	}
}
