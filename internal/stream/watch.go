package stream

import (
	"time"

	"github.com/lumen-data/firestream/internal/backoff"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/serializer"
	"github.com/lumen-data/firestream/internal/wire"
)

// WatchPath is the server-push listen RPC path.
const WatchPath = "/google.firestore.v1beta1.Firestore/Listen"

// WatchDelegate receives watch-stream events: the base Delegate surface
// plus OnChange for each decoded listen-response frame.
type WatchDelegate interface {
	Delegate
	OnChange(change wire.WatchChange, version time.Time)
}

// WatchStream layers add/remove target framing over the generic stream
// base.
type WatchStream struct {
	*Base
	ser      serializer.Serializer
	delegate WatchDelegate
}

// NewWatchStream constructs a watch stream bound to q, transport, and
// token provider, with request headers the caller has already built.
func NewWatchStream(q *queue.Queue, transport Transport, tp TokenProvider, headers map[string]string, ser serializer.Serializer, bcfg backoff.Config) *WatchStream {
	ws := &WatchStream{ser: ser}
	ws.Base = NewBase(q, transport, tp, WatchPath, headers, bcfg)
	ws.Base.SetHandler(ws)
	return ws
}

// Start begins the watch stream, binding delegate for open, close, and
// change callbacks.
func (ws *WatchStream) Start(delegate WatchDelegate) {
	ws.delegate = delegate
	ws.Base.Start(delegate)
}

// Watch sends an add-target request for target. The stream must be open.
func (ws *WatchStream) Watch(target wire.Target) error {
	frame, err := ws.ser.EncodeAddTarget(target)
	if err != nil {
		return err
	}
	return ws.Base.writeFrame(frame)
}

// Unwatch sends a remove-target request for targetID. The stream must be
// open.
func (ws *WatchStream) Unwatch(targetID int32) error {
	frame, err := ws.ser.EncodeRemoveTarget(targetID)
	if err != nil {
		return err
	}
	return ws.Base.writeFrame(frame)
}

// HandleFrame implements FrameHandler: decode one listen-response and
// dispatch to the delegate's OnChange. The base has already reset
// backoff by the time this runs.
func (ws *WatchStream) HandleFrame(frame []byte) error {
	change, version, err := ws.ser.DecodeListenResponse(frame)
	if err != nil {
		return err
	}
	if ws.delegate != nil {
		ws.delegate.OnChange(change, version)
	}
	return nil
}
