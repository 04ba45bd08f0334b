// Package events publishes run trace events on a NATS bus so observers (the
// live dashboard, trace subscribers) can follow runs without touching run
// state. By default the bus runs an in-process nats-server; an external
// cluster can be pointed at instead.
//
// Subjects: runs.<run-id>.trace for stage events, runs.<run-id>.terminal for
// the final transition.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
)

const readyTimeout = 5 * time.Second

// Bus carries run events. One Bus is shared by all runs in a batch; per-run
// isolation lives in the subject space, not the connection.
type Bus struct {
	conn     *nats.Conn
	embedded *natsserver.Server
}

// NewEmbedded starts an in-process nats-server on a random localhost port
// and connects to it. This is the default for single-process operation.
func NewEmbedded() (*Bus, error) {
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready after %s", readyTimeout)
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect embedded nats server: %w", err)
	}
	return &Bus{conn: conn, embedded: srv}, nil
}

// Connect joins an external NATS cluster.
func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Bus{conn: conn}, nil
}

// Publish emits one trace event on the run's subject. Publish failures are
// returned, not fatal: tracing observers are best-effort, the on-disk
// trace.log is the durable record.
func (b *Bus) Publish(ev artifact.TraceEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	subject := "runs." + ev.RunID + ".trace"
	if ev.Event == artifact.EventTerminal {
		subject = "runs." + ev.RunID + ".terminal"
	}
	return b.conn.Publish(subject, data)
}

// Subscribe delivers every event for one run (or "*" for all runs) to fn.
// The returned function cancels the subscription.
func (b *Bus) Subscribe(runID string, fn func(artifact.TraceEvent)) (func(), error) {
	sub, err := b.conn.Subscribe("runs."+runID+".>", func(msg *nats.Msg) {
		var ev artifact.TraceEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe run %s: %w", runID, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Flush blocks until published events are on the wire.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// Close drains the connection and stops the embedded server if one runs.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}
