package relaysvc

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// viewer is one receive-only websocket consumer. Writes are serialized
// per viewer; the registry lock domain is independent of the aggregator
// mutex.
type viewer struct {
	id   uint64
	conn *websocket.Conn

	mu sync.Mutex
}

func (v *viewer) send(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

type viewerRegistry struct {
	log     *zap.Logger
	viewers *xsync.MapOf[uint64, *viewer]
	nextID  *xsync.Counter
}

func newViewerRegistry(log *zap.Logger) *viewerRegistry {
	return &viewerRegistry{
		log:     log,
		viewers: xsync.NewMapOf[uint64, *viewer](),
		nextID:  xsync.NewCounter(),
	}
}

func (r *viewerRegistry) add(conn *websocket.Conn) *viewer {
	r.nextID.Inc()
	v := &viewer{
		id:   uint64(r.nextID.Value()),
		conn: conn,
	}
	r.viewers.Store(v.id, v)
	r.log.Info("Viewer connected", zap.Uint64("viewerId", v.id), zap.Int("total", r.viewers.Size()))
	return v
}

func (r *viewerRegistry) remove(v *viewer) {
	if _, loaded := r.viewers.LoadAndDelete(v.id); loaded {
		v.conn.Close()
		r.log.Info("Viewer disconnected", zap.Uint64("viewerId", v.id), zap.Int("total", r.viewers.Size()))
	}
}

func (r *viewerRegistry) count() int {
	return r.viewers.Size()
}

// broadcast delivers one raw message to every viewer, best effort. A
// viewer whose write fails is removed; the rest are unaffected.
func (r *viewerRegistry) broadcast(data []byte) {
	r.viewers.Range(func(_ uint64, v *viewer) bool {
		if err := v.send(data); err != nil {
			r.log.Warn("Dropping viewer after failed write",
				zap.Uint64("viewerId", v.id), zap.Error(err))
			r.remove(v)
		}
		return true
	})
}

func (r *viewerRegistry) closeAll() {
	r.viewers.Range(func(_ uint64, v *viewer) bool {
		r.remove(v)
		return true
	})
}
