// Package ingest polls an upstream GTFS-realtime vehicle feed and appends
// each new feed to the position log as JSON.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const fetchTimeout = 10 * time.Second

type Appender interface {
	AppendFeed(ctx context.Context, subject string, data []byte) (uint64, error)
}

type Metrics interface {
	IngestOutcome(outcome string)
}

type Options struct {
	Interval time.Duration
	Client   *http.Client
	Now      func() time.Time
	Metrics  Metrics
}

type Poller struct {
	url     string
	subject string
	app     Appender
	opts    Options

	// header timestamp of the last appended feed
	lastHeader uint64
}

func NewPoller(url, subject string, app Appender, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{url: url, subject: subject, app: app, opts: opts}
}

// Fetch downloads and parses the upstream protobuf feed.
func (p *Poller) Fetch(ctx context.Context) (*gtfsrt.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gtfs-rt http status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var feed gtfsrt.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("gtfs-rt decode: %w", err)
	}
	return &feed, nil
}

// Encode renders feed as protobuf JSON with a top-level "timestamp" key
// holding the fetch instant.
func Encode(feed *gtfsrt.FeedMessage, fetchedAt time.Time) ([]byte, error) {
	b, err := protojson.Marshal(feed)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	ts, err := json.Marshal(fetchedAt.UTC().Format("2006-01-02T15:04:05.000000"))
	if err != nil {
		return nil, err
	}
	doc["timestamp"] = ts
	return json.Marshal(doc)
}

// Tick fetches once and appends the feed unless its header timestamp matches
// the previous append.
func (p *Poller) Tick(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	feed, err := p.Fetch(cctx)
	if err != nil {
		p.outcome("error")
		return err
	}
	hdr := feed.GetHeader().GetTimestamp()
	if hdr != 0 && hdr == p.lastHeader {
		p.outcome("unchanged")
		return nil
	}
	data, err := Encode(feed, p.opts.Now())
	if err != nil {
		p.outcome("error")
		return err
	}
	seq, err := p.app.AppendFeed(cctx, p.subject, data)
	if err != nil {
		p.outcome("error")
		return fmt.Errorf("append feed: %w", err)
	}
	p.lastHeader = hdr
	p.outcome("appended")
	log.Printf("feed appended seq=%d entities=%d bytes=%d", seq, len(feed.GetEntity()), len(data))
	return nil
}

// Run polls every Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ingest poll error: %v", err)
			}
			t.Reset(p.opts.Interval)
		}
	}
}

func (p *Poller) outcome(o string) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.IngestOutcome(o)
	}
}
