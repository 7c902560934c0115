package schedule

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gtfs-reconciler/internal/gtfs"
)

type LoadErrorKind int

const (
	FetchFailed LoadErrorKind = iota + 1
	ParseFailed
)

func (k LoadErrorKind) String() string {
	switch k {
	case FetchFailed:
		return "fetch failed"
	case ParseFailed:
		return "parse failed"
	}
	return "unknown"
}

// LoadError is returned when the static schedule cannot be made available.
type LoadError struct {
	Kind LoadErrorKind
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load schedule: %s: %v", e.Kind, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

var httpClient = &http.Client{Timeout: 2 * time.Minute}

const fetchAttempts = 3

// Load parses the static schedule found in dir. When any required file is
// missing the archive at url is downloaded and extracted into dir first.
func Load(ctx context.Context, dir, url string) (*Repository, error) {
	if missing := gtfs.MissingFiles(dir); len(missing) > 0 {
		if url == "" {
			return nil, &LoadError{Kind: FetchFailed, Err: fmt.Errorf("missing %s in %s and no archive url", strings.Join(missing, ", "), dir)}
		}
		log.Printf("schedule files missing (%s), downloading %s", strings.Join(missing, ", "), url)
		if err := fetchArchive(ctx, url, dir); err != nil {
			return nil, &LoadError{Kind: FetchFailed, Err: err}
		}
		if missing := gtfs.MissingFiles(dir); len(missing) > 0 {
			return nil, &LoadError{Kind: ParseFailed, Err: fmt.Errorf("archive lacks %s", strings.Join(missing, ", "))}
		}
	}

	feed, err := gtfs.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{Kind: ParseFailed, Err: err}
	}
	repo := FromFeed(feed)
	st := repo.Stats()
	log.Printf("schedule loaded stops=%d trips=%d routes=%d stop_times=%d", st.Stops, st.Trips, st.Routes, st.Visits)
	return repo, nil
}

// FeedSource yields an already parsed feed, such as the tables of a schedule database.
type FeedSource func(ctx context.Context) (*gtfs.Feed, error)

// LoadFrom indexes the feed returned by src.
func LoadFrom(ctx context.Context, src FeedSource) (*Repository, error) {
	feed, err := src(ctx)
	if err != nil {
		return nil, &LoadError{Kind: FetchFailed, Err: err}
	}
	if len(feed.Trips) == 0 || len(feed.StopTimes) == 0 {
		return nil, &LoadError{Kind: ParseFailed, Err: fmt.Errorf("feed has %d trips and %d stop_times", len(feed.Trips), len(feed.StopTimes))}
	}
	repo := FromFeed(feed)
	st := repo.Stats()
	log.Printf("schedule loaded stops=%d trips=%d routes=%d stop_times=%d", st.Stops, st.Trips, st.Routes, st.Visits)
	return repo, nil
}

func fetchArchive(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp("", "gtfs-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	op := func() error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		if err := tmp.Truncate(0); err != nil {
			return backoff.Permanent(err)
		}
		return download(ctx, url, tmp)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchAttempts-1), ctx)
	notify := func(err error, wait time.Duration) {
		log.Printf("schedule download error: %v (retry in %s)", err, wait.Round(time.Millisecond))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return extract(tmp.Name(), dir)
}

func download(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("archive http status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func extract(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		target := filepath.Join(root, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes %s", f.Name, dir)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

