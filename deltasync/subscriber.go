package deltasync

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	slogctx "github.com/veqryn/slog-context"

	"github.com/deepdelta/deepdelta"
)

// Subscriber is the receiving end of a hub connection: it decodes each
// binary frame into a delta document and hands it to the caller.
type Subscriber struct {
	conn   *websocket.Conn
	docs   chan *deepdelta.Document
	cancel context.CancelFunc
}

// Dial connects to a hub and starts receiving. Decode options must match
// the hub's encode options.
func Dial(ctx context.Context, url string, engine *deepdelta.Engine, binOpts deepdelta.BinaryOptions) (*Subscriber, error) {
	if engine == nil {
		engine = deepdelta.New()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial delta hub: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscriber{
		conn:   conn,
		docs:   make(chan *deepdelta.Document, 16),
		cancel: cancel,
	}

	go func() {
		defer close(s.docs)
		log := slogctx.FromCtx(ctx)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			doc, err := engine.Decode(data, binOpts)
			if err != nil {
				log.Error("discarding undecodable delta frame", "error", err)
				continue
			}
			select {
			case s.docs <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return s, nil
}

// Documents returns the stream of decoded documents. The channel closes
// when the connection does.
func (s *Subscriber) Documents() <-chan *deepdelta.Document {
	return s.docs
}

// Close tears the connection down.
func (s *Subscriber) Close() error {
	s.cancel()
	return s.conn.Close()
}
