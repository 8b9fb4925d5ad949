package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	NATSURL    string
	StreamName string
}

// JetStream publishes events to a JetStream stream, creating it on first use.
type JetStream struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

func NewJetStream(ctx context.Context, cfg Config) (*JetStream, error) {
	if cfg.StreamName == "" {
		cfg.StreamName = "BIBTASK"
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("bibtask"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	p := &JetStream{nc: nc, js: js, cfg: cfg}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *JetStream) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

func (p *JetStream) ensureStream(ctx context.Context) error {
	desired := []string{SubjectSubmitted, SubjectStatus}

	if info, err := p.js.StreamInfo(p.cfg.StreamName, nats.Context(ctx)); err == nil && info != nil {
		merged, changed := mergeSubjects(info.Config.Subjects, desired)
		if !changed {
			return nil
		}
		sc := info.Config
		sc.Subjects = merged
		sc.Name = p.cfg.StreamName
		if _, err := p.js.UpdateStream(&sc, nats.Context(ctx)); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	}

	sc := &nats.StreamConfig{
		Name:      p.cfg.StreamName,
		Subjects:  desired,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	}
	if _, err := p.js.AddStream(sc, nats.Context(ctx)); err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

// mergeSubjects appends the desired subjects missing from existing, keeping
// existing order.
func mergeSubjects(existing, desired []string) ([]string, bool) {
	set := make(map[string]struct{}, len(existing)+len(desired))
	out := make([]string, 0, len(existing)+len(desired))
	for _, s := range existing {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}

	changed := false
	for _, s := range desired {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
		changed = true
	}
	return out, changed
}

func (p *JetStream) Publish(ctx context.Context, subject string, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = b
	inject(ctx, msg)
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

// Tail delivers every event published from now on until ctx is done. The
// context passed to handle carries the publisher's trace.
func (p *JetStream) Tail(ctx context.Context, handle func(ctx context.Context, subject string, ev Event)) error {
	sub, err := p.js.Subscribe("bibtask.>", func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			_ = m.Term()
			return
		}
		handle(extract(ctx, m), m.Subject, ev)
		_ = m.Ack()
	}, nats.DeliverNew(), nats.ManualAck(), nats.BindStream(p.cfg.StreamName))
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return nil
}

// StreamState summarises the backing stream.
type StreamState struct {
	Name     string
	Subjects []string
	Msgs     uint64
	Bytes    uint64
}

func (p *JetStream) Info(ctx context.Context) (StreamState, error) {
	info, err := p.js.StreamInfo(p.cfg.StreamName, nats.Context(ctx))
	if err != nil {
		return StreamState{}, fmt.Errorf("stream info %s: %w", p.cfg.StreamName, err)
	}
	return StreamState{
		Name:     info.Config.Name,
		Subjects: info.Config.Subjects,
		Msgs:     info.State.Msgs,
		Bytes:    info.State.Bytes,
	}, nil
}
