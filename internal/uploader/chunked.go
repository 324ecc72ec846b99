// Package uploader moves large media payloads to platform upload endpoints in
// bounded-size pieces. A failed chunk fails the whole transfer; most platforms
// expire upload sessions on gaps, so resume logic lives in the orchestrator's
// retry of the full attempt instead.
package uploader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Chunk is a half-open byte range [Start, End) of the source payload.
type Chunk struct {
	Index int
	Start int64
	End   int64
}

// Ranges tiles [0, size) into ceil(size/chunkSize) chunks with no gaps or
// overlaps. The final chunk may be short.
func Ranges(size, chunkSize int64) []Chunk {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}

	count := int((size + chunkSize - 1) / chunkSize)
	chunks := make([]Chunk, 0, count)
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize
		if end > size {
			end = size
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end})
	}
	return chunks
}

// PushFunc delivers one chunk to the platform's upload endpoint.
type PushFunc func(chunk []byte, index int, totalSize int64) error

// Source is a readable payload of known size.
type Source interface {
	Size(ctx context.Context) (int64, error)
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
}

// Upload fetches the payload range by range and pushes each chunk. Any chunk
// error aborts the transfer.
func Upload(ctx context.Context, src Source, chunkSize int64, push PushFunc) error {
	size, err := src.Size(ctx)
	if err != nil {
		return fmt.Errorf("resolving source size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("source has no content")
	}
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	for _, c := range Ranges(size, chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}

		buf, err := src.ReadRange(ctx, c.Start, c.End)
		if err != nil {
			return fmt.Errorf("reading chunk %d [%d,%d): %w", c.Index, c.Start, c.End, err)
		}
		if int64(len(buf)) != c.End-c.Start {
			return fmt.Errorf("chunk %d: expected %d bytes, got %d", c.Index, c.End-c.Start, len(buf))
		}

		if err := push(buf, c.Index, size); err != nil {
			return fmt.Errorf("pushing chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

// BufferSource serves an already-local payload.
type BufferSource []byte

func (b BufferSource) Size(ctx context.Context) (int64, error) {
	return int64(len(b)), nil
}

func (b BufferSource) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if start < 0 || end > int64(len(b)) || start > end {
		return nil, fmt.Errorf("range [%d,%d) out of bounds for %d bytes", start, end, len(b))
	}
	return b[start:end], nil
}

// URLSource serves a remote payload via HTTP range requests.
type URLSource struct {
	URL    string
	client *http.Client
	size   int64
}

func NewURLSource(url string) *URLSource {
	return &URLSource{
		URL:    url,
		client: &http.Client{Timeout: 2 * time.Minute},
		size:   -1,
	}
}

func (s *URLSource) Size(ctx context.Context) (int64, error) {
	if s.size >= 0 {
		return s.size, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d resolving size of %s", resp.StatusCode, s.URL)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("source %s has unknown content length", s.URL)
	}

	s.size = resp.ContentLength
	return s.size, nil
}

func (s *URLSource) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return io.ReadAll(resp.Body)
	case http.StatusOK:
		// Server ignored the Range header. Acceptable only when the range
		// covers the whole payload.
		if start == 0 && (s.size < 0 || end == s.size) {
			return io.ReadAll(resp.Body)
		}
		return nil, fmt.Errorf("server does not support range requests for %s", s.URL)
	default:
		return nil, fmt.Errorf("unexpected status %d reading range [%d,%d)", resp.StatusCode, start, end)
	}
}
