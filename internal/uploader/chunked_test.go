package uploader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangesTiling(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int64
		count     int
	}{
		{"exact multiple", 100, 25, 4},
		{"trailing short chunk", 100, 30, 4},
		{"single chunk", 10, 64, 1},
		{"chunk equals size", 64, 64, 1},
		{"one byte", 1, 10 << 20, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Ranges(tt.size, tt.chunkSize)
			require.Len(t, chunks, tt.count)

			var next int64
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, next, c.Start, "chunks must be contiguous")
				assert.Greater(t, c.End, c.Start)
				if i < len(chunks)-1 {
					assert.Equal(t, tt.chunkSize, c.End-c.Start, "only the last chunk may be short")
				}
				next = c.End
			}
			assert.Equal(t, tt.size, next, "chunks must cover the full payload")
		})
	}
}

func TestRangesInvalidInput(t *testing.T) {
	assert.Nil(t, Ranges(0, 10))
	assert.Nil(t, Ranges(-5, 10))
	assert.Nil(t, Ranges(10, 0))
}

func TestUploadPushesEveryChunk(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 100) // 800 bytes

	var got []byte
	var indexes []int
	err := Upload(context.Background(), BufferSource(payload), 256, func(chunk []byte, index int, totalSize int64) error {
		assert.Equal(t, int64(len(payload)), totalSize)
		indexes = append(indexes, index)
		got = append(got, chunk...)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, payload, got)
	assert.Equal(t, []int{0, 1, 2, 3}, indexes)
}

func TestUploadPushErrorAborts(t *testing.T) {
	pushErr := errors.New("session expired")

	var calls int
	err := Upload(context.Background(), BufferSource(make([]byte, 100)), 30, func(chunk []byte, index int, totalSize int64) error {
		calls++
		if index == 1 {
			return pushErr
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, pushErr)
	assert.Equal(t, 2, calls, "no chunks after the failed one")
}

func TestUploadEmptySource(t *testing.T) {
	err := Upload(context.Background(), BufferSource(nil), 10, func([]byte, int, int64) error {
		t.Fatal("push should not be called")
		return nil
	})
	require.Error(t, err)
}

func TestUploadCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Upload(ctx, BufferSource(make([]byte, 10)), 5, func([]byte, int, int64) error {
		t.Fatal("push should not be called")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestURLSourceRangeRequests(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 50) // 500 bytes

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "payload.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	src := NewURLSource(srv.URL)

	size, err := src.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	var got []byte
	err = Upload(context.Background(), src, 128, func(chunk []byte, index int, totalSize int64) error {
		got = append(got, chunk...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestURLSourceSizeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewURLSource(srv.URL).Size(context.Background())
	require.Error(t, err)
}
