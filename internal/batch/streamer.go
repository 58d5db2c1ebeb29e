package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"
)

const DefaultChunkSize = 150

// RowPolicy decides what happens to a row that fails validation.
type RowPolicy string

const (
	// FailFast aborts the stream on the first invalid row.
	FailFast RowPolicy = "fail-fast"
	// SkipInvalid drops invalid rows and keeps streaming. Dropped rows are
	// not part of the returned total.
	SkipInvalid RowPolicy = "skip-invalid"
)

func ParseRowPolicy(s string) (RowPolicy, error) {
	switch RowPolicy(s) {
	case FailFast, "":
		return FailFast, nil
	case SkipInvalid:
		return SkipInvalid, nil
	default:
		return "", fmt.Errorf("unknown row policy %q", s)
	}
}

// FetchError wraps a failure to obtain the file from object storage.
type FetchError struct {
	Ref string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Opener opens a stored file by reference and returns it with its name.
type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

type URLSigner interface {
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// SignedURLOpener downloads files through a time-limited signed URL.
type SignedURLOpener struct {
	signer URLSigner
	client *http.Client
	ttl    time.Duration
}

func NewSignedURLOpener(signer URLSigner, client *http.Client, ttl time.Duration) *SignedURLOpener {
	if client == nil {
		client = &http.Client{}
	}
	return &SignedURLOpener{signer: signer, client: client, ttl: ttl}
}

func (o *SignedURLOpener) Open(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	signed, err := o.signer.SignedURL(ctx, ref, o.ttl)
	if err != nil {
		return nil, "", &FetchError{Ref: ref, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return nil, "", &FetchError{Ref: ref, Err: err}
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{Ref: ref, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", &FetchError{Ref: ref, Err: fmt.Errorf("download returned %s", resp.Status)}
	}

	return resp.Body, fileName(ref), nil
}

func fileName(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(ref)
}

type StreamOptions struct {
	ChunkSize int
	Policy    RowPolicy
}

type StreamResult struct {
	Rows    int
	Chunks  int
	Skipped int
}

// StreamChunks reads the file once, validates the header, decodes every row
// and hands rows to onChunk in groups of ChunkSize, plus one final partial
// group. onChunk is awaited before reading on; an error from it stops the
// stream. Chunks already handed over are not recalled on a later failure.
func StreamChunks[R any](ctx context.Context, opener Opener, ref string, codec Codec[R], opts StreamOptions, onChunk func(ctx context.Context, rows []R) error) (StreamResult, error) {
	var result StreamResult
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	body, name, err := opener.Open(ctx, ref)
	if err != nil {
		return result, err
	}
	defer body.Close()

	reader, err := NewRecordReader(body, FormatOf(name))
	if err != nil {
		return result, &FetchError{Ref: ref, Err: err}
	}
	defer reader.Close()

	cells, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return result, &HeaderError{Kind: codec.Kind(), Reason: "file has no header row"}
	}
	if err != nil {
		return result, err
	}
	header := NewHeader(cells)
	if err := codec.CheckHeader(header); err != nil {
		return result, err
	}

	logger := zap.S().Named("chunk_streamer").With("ref", ref, "kind", codec.Kind())
	buffer := make([]R, 0, opts.ChunkSize)
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := onChunk(ctx, buffer); err != nil {
			return err
		}
		result.Chunks++
		buffer = make([]R, 0, opts.ChunkSize)
		return nil
	}

	for n := 1; ; {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, err
		}

		rec := NewRecord(header, n, cells)
		if rec.Blank() {
			continue
		}
		n++

		row, err := codec.Decode(rec)
		if err != nil {
			if opts.Policy == SkipInvalid {
				result.Skipped++
				logger.Warnw("skipping invalid row", "error", err)
				continue
			}
			return result, err
		}

		buffer = append(buffer, row)
		result.Rows++
		if len(buffer) == opts.ChunkSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}
	logger.Debugw("stream drained", "rows", result.Rows, "chunks", result.Chunks, "skipped", result.Skipped)
	return result, nil
}
