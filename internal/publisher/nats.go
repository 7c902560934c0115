package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"gtfs-reconciler/internal/gtfs"
	"gtfs-reconciler/internal/snapshot"
)

type NATSPublisher struct {
	nc          *nats.Conn
	js          jetstream.JetStream
	pub         msgPublisher
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type msgPublisher interface {
	Publish(subj string, data []byte) error
}

// NewNATSPublisher connects to url. Snapshot subjects are rooted at prefix;
// an empty prefix disables snapshot fan-out but the connection and its
// JetStream context remain usable.
func NewNATSPublisher(url, name, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, js: js, pub: nc, prefix: prefix, logSubjects: logSubjects, metrics: m}, nil
}

// Conn exposes the underlying connection for readers sharing it.
func (p *NATSPublisher) Conn() *nats.Conn { return p.nc }

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// EnsureStream creates or updates a stream capturing subjects with the given
// retention.
func (p *NATSPublisher) EnsureStream(ctx context.Context, name string, subjects []string, maxAge time.Duration) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		MaxAge:    maxAge,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %q: %w", name, err)
	}
	return nil
}

// AppendFeed writes a raw feed payload to the stream bound to subject and
// returns its sequence.
func (p *NATSPublisher) AppendFeed(ctx context.Context, subject string, data []byte) (uint64, error) {
	start := time.Now()
	ack, err := p.js.Publish(ctx, subject, data)
	p.observe(start, err)
	if err != nil {
		return 0, err
	}
	if p.logSubjects {
		log.Printf("jetstream append subject=%s seq=%d", subject, ack.Sequence)
	}
	return ack.Sequence, nil
}

// PublishSnapshot sends the whole snapshot to <prefix>.snapshot and each
// vehicle to <prefix>.vehicle.<route>.<vehicle>. Per-vehicle failures are
// counted and the first one is returned.
func (p *NATSPublisher) PublishSnapshot(_ context.Context, snap *snapshot.Snapshot) error {
	if p.prefix == "" {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	firstErr := p.publish(p.prefix+".snapshot", b)
	for i := range snap.Vehicles {
		if err := p.publishVehicle(&snap.Vehicles[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *NATSPublisher) publishVehicle(v *gtfs.VehicleRecord) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.publish(VehicleSubject(p.prefix, v.RouteID, v.VehicleID), b)
}

func (p *NATSPublisher) publish(subject string, b []byte) error {
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err := p.pub.Publish(subject, b)
	p.observe(start, err)
	return err
}

func (p *NATSPublisher) observe(start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.PublishObserve(time.Since(start))
	if err != nil {
		p.metrics.NATSPublishErrInc()
	} else {
		p.metrics.NATSPublishedInc()
	}
}

// VehicleSubject is the subject a single vehicle record is published on.
// Records without a route use "_".
func VehicleSubject(prefix, routeID, vehicleID string) string {
	return fmt.Sprintf("%s.vehicle.%s.%s", prefix, subjectToken(routeID), subjectToken(vehicleID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
