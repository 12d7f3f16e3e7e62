package session

import (
	"encoding/json"
	"log/slog"

	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/protocol"
)

// BusPublisher broadcasts session status and transcripts over NATS so the
// tray, CLI and any preview UI can observe the pipeline without touching
// it.
type BusPublisher struct {
	bus *bus.Client
	log *slog.Logger
}

func NewBusPublisher(b *bus.Client, log *slog.Logger) *BusPublisher {
	return &BusPublisher{bus: b, log: log.With(slog.String("component", "session.publisher"))}
}

func (p *BusPublisher) PublishStatus(st protocol.Status) {
	p.publish(protocol.SubjectStatus, st)
}

func (p *BusPublisher) PublishTranscript(tr protocol.Transcript) {
	subject := protocol.SubjectTranscriptFinal
	if tr.Partial {
		subject = protocol.SubjectTranscriptPartial
	}
	p.publish(subject, tr)
}

func (p *BusPublisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("failed to encode message", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Conn().Publish(subject, data); err != nil {
		p.log.Warn("failed to publish message", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
