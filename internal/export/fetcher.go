package export

import (
	"context"
	"io"
	"log"
	"os"
	"sync"

	"github.com/golang/snappy"

	"github.com/eventtide/pipeline/internal/daykey"
	"github.com/eventtide/pipeline/internal/errors"
	"github.com/eventtide/pipeline/internal/storage"
)

// SpoolFile is one partition file staged on local disk,
// snappy-compressed to keep the spool footprint down.
type SpoolFile struct {
	Day  string
	Name string
	path string
}

// Open returns a reader over the decompressed file contents.
func (f *SpoolFile) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	return &spoolReader{Reader: snappy.NewReader(file), file: file}, nil
}

// Remove deletes the spool file from disk.
func (f *SpoolFile) Remove() error {
	return os.Remove(f.path)
}

type spoolReader struct {
	*snappy.Reader
	file *os.File
}

func (r *spoolReader) Close() error {
	return r.file.Close()
}

// Fetcher downloads partition files in the background, at most two in
// flight, so the consumer always has the next file ready without the
// spool holding the whole range at once.
type Fetcher struct {
	store    storage.ObjectStorage
	prefix   string
	spoolDir string

	files chan *SpoolFile

	mu  sync.Mutex
	err error
}

// NewFetcher creates a fetcher reading objects under prefix and
// spooling them into spoolDir.
func NewFetcher(store storage.ObjectStorage, prefix, spoolDir string) *Fetcher {
	return &Fetcher{
		store:    store,
		prefix:   prefix,
		spoolDir: spoolDir,
		files:    make(chan *SpoolFile, 2),
	}
}

// Start launches the background download of every partition file in
// the inclusive [fromDay, toDay] range, in day order. The returned
// channel closes when the range is exhausted, the context is canceled,
// or an error occurs; check Err after draining it.
func (f *Fetcher) Start(ctx context.Context, fromDay, toDay string) (<-chan *SpoolFile, error) {
	days, err := daykey.Range(fromDay, toDay)
	if err != nil {
		return nil, err
	}
	go f.run(ctx, days)
	return f.files, nil
}

// Err returns the failure that stopped the fetcher, if any. Valid only
// after the files channel has closed.
func (f *Fetcher) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *Fetcher) run(ctx context.Context, days []string) {
	defer close(f.files)

	keys, err := f.store.ListObjects(ctx, f.prefix)
	if err != nil {
		f.fail(errors.NewStorageUnavailable(errors.CodeListFailed,
			"listing export files under "+f.prefix, err))
		return
	}
	byDay := make(map[string][]string)
	for _, key := range keys {
		if day, ok := daykey.FromFilename(key); ok {
			byDay[day] = append(byDay[day], key)
		}
	}

	for _, day := range days {
		for _, key := range byDay[day] {
			log.Printf("fetching %s", key)
			sf, err := f.spool(ctx, day, key)
			if err != nil {
				f.fail(err)
				return
			}
			select {
			case f.files <- sf:
			case <-ctx.Done():
				sf.Remove()
				f.fail(ctx.Err())
				return
			}
		}
	}
}

// spool streams one object into a compressed temp file.
func (f *Fetcher) spool(ctx context.Context, day, key string) (*SpoolFile, error) {
	body, err := f.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(f.spoolDir, "export-spool-*")
	if err != nil {
		return nil, errors.NewInternalError("creating spool file", err)
	}

	w := snappy.NewBufferedWriter(tmp)
	if _, err := io.Copy(w, body); err == nil {
		err = w.Close()
	} else {
		w.Close()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, errors.NewInternalError("spooling "+key, err)
	}

	return &SpoolFile{Day: day, Name: key, path: tmp.Name()}, nil
}
