package fetcher

import "io"

// ProgressFunc receives cumulative byte counts while a download streams.
// A non-positive total means the expected size is unknown.
type ProgressFunc func(downloaded, total int64)

// progressReader wraps an io.Reader and reports the cumulative byte count on
// every read. The rounding in the progress cache keeps downstream observers
// from being flooded.
type progressReader struct {
	reader     io.Reader
	total      int64
	read       int64
	onProgress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, cb ProgressFunc) *progressReader {
	return &progressReader{reader: r, total: total, onProgress: cb}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.onProgress(pr.read, pr.total)
	}

	return n, err
}
