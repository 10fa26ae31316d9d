package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Dispatcher hands a notification payload to the transport layer for a
// channel. Delivery mechanics (email, Slack, webhooks) live in external
// workers; this side only decides what to send.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel string, payload any) error
}

// BusDispatcher publishes notification payloads to NATS, one subject per
// channel. Unrouted channels fall back to qa.notify.<channel>.
type BusDispatcher struct {
	Conn   *nats.Conn
	Routes map[string]string
}

func NewBusDispatcher(url string, routes map[string]string) (*BusDispatcher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &BusDispatcher{Conn: conn, Routes: routes}, nil
}

func (d *BusDispatcher) Dispatch(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	subject, ok := d.Routes[channel]
	if !ok {
		subject = fmt.Sprintf("qa.notify.%s", channel)
	}
	return d.Conn.Publish(subject, data)
}

func (d *BusDispatcher) Close() {
	if d.Conn != nil {
		d.Conn.Drain()
		d.Conn.Close()
	}
}

// LogDispatcher records intent without a transport, for deployments that run
// without a bus.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Dispatch(ctx context.Context, channel string, payload any) error {
	data, _ := json.Marshal(payload)
	d.Logger.Info("notification dispatched", slog.String("channel", channel), slog.String("payload", string(data)))
	return nil
}
