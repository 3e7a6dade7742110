package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	natspkg "github.com/brojonat/pathos/service/nats"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	keepaliveInterval = 10 * time.Second
	consumerIdleTTL   = 30 * time.Second
)

// EventStream relays wallet and transfer events from JetStream to
// Server-Sent Events clients.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEventStream connects to NATS for streaming published events.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("pathos-event-stream"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("event stream initialized", "nats_url", natsURL)

	return &EventStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (e *EventStream) Close() error {
	if e.nc != nil {
		e.nc.Close()
		e.logger.Info("event stream closed")
	}
	return nil
}

// streamSubjects picks the subjects a client subscribes to. An empty address
// means every wallet and transfer event; otherwise only transfers sent from
// that address.
func streamSubjects(address string) ([]string, error) {
	if address == "" {
		return natspkg.StreamSubjects, nil
	}
	pk, err := wallet.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return []string{natspkg.TransferSubject(pk.String())}, nil
}

// eventName maps a subject to its SSE event name ("wallet" or "transfer").
func eventName(subject string) string {
	name, _, _ := strings.Cut(subject, ".")
	return name
}

// writeEvent writes one SSE frame.
func writeEvent(w http.ResponseWriter, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// handleStreamEvents streams events over SSE.
// GET /api/v1/stream/events streams everything; GET /api/v1/stream/transfers/{address}
// streams confirmed transfers from one wallet.
func handleStreamEvents(stream *EventStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		subjects, err := streamSubjects(address)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		rc := http.NewResponseController(w)
		// Streams outlive the server's write timeout.
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			logger.DebugContext(r.Context(), "could not clear write deadline", "error", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		rc.Flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"subjects", subjects,
			"remote_addr", r.RemoteAddr,
		)

		cons, err := stream.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubjects:    subjects,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			InactiveThreshold: consumerIdleTTL,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subjects", subjects,
				"error", err,
			)
			writeEvent(w, "error", []byte(`{"error":"failed to subscribe"}`))
			rc.Flush()
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgChan <- msg:
			case <-r.Context().Done():
			}
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
			writeEvent(w, "error", []byte(`{"error":"failed to subscribe"}`))
			rc.Flush()
			return
		}
		defer cc.Stop()

		connected, _ := json.Marshal(map[string]any{"subjects": subjects})
		writeEvent(w, "connected", connected)
		rc.Flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				rc.Flush()

			case msg := <-msgChan:
				if !json.Valid(msg.Data()) {
					logger.WarnContext(r.Context(), "dropping malformed event", "subject", msg.Subject())
					msg.Ack()
					continue
				}
				if err := writeEvent(w, eventName(msg.Subject()), msg.Data()); err != nil {
					logger.DebugContext(r.Context(), "SSE write failed", "error", err)
					return
				}
				rc.Flush()
				msg.Ack()

				logger.DebugContext(r.Context(), "sent event", "subject", msg.Subject())

			case <-cc.Closed():
				return

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"subjects", subjects,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
