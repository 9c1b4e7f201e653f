package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// Input errors.
var (
	// ErrCompressionFailed indicates a failure reading compressed content.
	ErrCompressionFailed = errors.New("failed to read compressed file")

	// ErrBinaryFile indicates the input looks like binary data rather
	// than thread-dump text.
	ErrBinaryFile = errors.New("file appears to be binary")
)

// binaryThreshold is the maximum ratio of non-printable characters before
// the input is rejected as binary.
const binaryThreshold = 0.3

// compressionCodec defines how to create a streaming reader for a
// compressed format.
type compressionCodec struct {
	name   string
	opener func(io.Reader) (io.ReadCloser, error)
}

var (
	gzipCodec = compressionCodec{
		name: "gzip",
		opener: func(r io.Reader) (io.ReadCloser, error) {
			return newParallelGzipReader(r)
		},
	}
	zstdCodec = compressionCodec{
		name: "zstd",
		opener: func(r io.Reader) (io.ReadCloser, error) {
			return newZstdDecoder(r)
		},
	}
)

// ReadInput reads the named dump file and returns the dump texts it
// contains, in order. Compressed files (.gz, .zst, .zstd) are transparently
// decompressed; .7z support bundles are expanded member by member (sorted
// by name); a plain text file holding several concatenated dumps is split
// on its banners. "-" reads standard input.
func ReadInput(filename string) ([][]byte, error) {
	if filename == "-" {
		return ReadStdin()
	}

	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".7z") {
		return readSevenZip(filename)
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(lower, ".gz"):
		cr, err := gzipCodec.opener(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", filename, ErrCompressionFailed, err)
		}
		defer cr.Close()
		r = cr
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		cr, err := zstdCodec.opener(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", filename, ErrCompressionFailed, err)
		}
		defer cr.Close()
		r = cr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if isBinaryContent(data) {
		return nil, fmt.Errorf("%s: %w", filename, ErrBinaryFile)
	}
	return SplitDumps(data), nil
}

// ReadStdin reads all of standard input and splits it into dump texts.
func ReadStdin() ([][]byte, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	if isBinaryContent(data) {
		return nil, fmt.Errorf("stdin: %w", ErrBinaryFile)
	}
	return SplitDumps(data), nil
}

// readSevenZip expands a .7z archive and treats every member file as one
// input, each split on banners like a plain file.
func readSevenZip(filename string) ([][]byte, error) {
	r, err := sevenzip.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", filename, ErrCompressionFailed, err)
	}
	defer r.Close()

	files := make([]*sevenzip.File, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var dumps [][]byte
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			log.Warnf("skipping archive member %s: %v", f.Name, err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Warnf("skipping archive member %s: %v", f.Name, err)
			continue
		}
		if isBinaryContent(data) {
			log.Warnf("skipping binary archive member %s", f.Name)
			continue
		}
		dumps = append(dumps, SplitDumps(data)...)
	}
	return dumps, nil
}

// SplitDumps splits a text blob holding one or more concatenated dumps
// into per-dump byte slices. Dumps are delimited by their "Full thread
// dump" banner; the preamble lines immediately preceding a banner
// (timestamp, PID) stay with that dump. A blob with no banner is returned
// as a single dump.
func SplitDumps(data []byte) [][]byte {
	lines := bytes.Split(data, []byte("\n"))

	var starts []int
	for i, line := range lines {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("Full thread dump")) {
			start := i
			// Pull in up to two contiguous non-blank preamble lines.
			for back := 0; back < 2 && start > 0; back++ {
				prev := bytes.TrimSpace(lines[start-1])
				if len(prev) == 0 || bytes.HasPrefix(prev, []byte("Full thread dump")) {
					break
				}
				start--
			}
			starts = append(starts, start)
		}
	}

	if len(starts) <= 1 {
		return [][]byte{data}
	}

	// Two banners claiming the same preamble lines cannot happen (a banner
	// stops the walk-back), so the starts are strictly increasing. Any text
	// before the first start stays with the first dump.
	var dumps [][]byte
	for n, start := range starts {
		end := len(lines)
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		if n == 0 {
			start = 0
		}
		dumps = append(dumps, bytes.Join(lines[start:end], []byte("\n")))
	}
	return dumps
}

// ParseAll parses every dump text and orders the snapshots: by timestamp
// when all of them carry one, by input order otherwise (a mixed sequence
// cannot be totally ordered by time, so input order wins).
func ParseAll(texts [][]byte) []*ThreadDump {
	dumps := make([]*ThreadDump, 0, len(texts))
	for _, t := range texts {
		dumps = append(dumps, ParseDump(t))
	}

	allStamped := len(dumps) > 0
	for _, d := range dumps {
		if d.Timestamp.IsZero() {
			allStamped = false
			break
		}
	}
	if allStamped {
		sort.SliceStable(dumps, func(i, j int) bool {
			return dumps[i].Timestamp.Before(dumps[j].Timestamp)
		})
	}
	return dumps
}

// isBinaryContent checks whether the data contains null bytes or an
// excessive ratio of control characters.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	nonPrintable := 0
	for _, c := range data {
		if c < 32 && c != '\n' && c != '\r' && c != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(data)) > binaryThreshold
}

// newParallelGzipReader returns a pgzip reader configured for parallel
// decompression.
func newParallelGzipReader(r io.Reader) (io.ReadCloser, error) {
	threads := runtime.GOMAXPROCS(0)
	if threads < 1 {
		threads = 1
	}
	if threads > 8 {
		threads = 8 // cap to avoid excessive goroutine churn on large hosts
	}

	const blockSize = 1 << 20
	return pgzip.NewReaderN(r, blockSize, threads)
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// newZstdDecoder returns a zstd decoder configured for streaming
// decompression.
func newZstdDecoder(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{Decoder: dec}, nil
}
