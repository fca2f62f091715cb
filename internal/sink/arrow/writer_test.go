package arrow

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `id,timestamp,severity,source,message,created_at
1,2024-01-01T10:00:00,ERROR,web-server,Connection refused,2024-01-01T10:00:01
2,2024-01-02T11:30:00,INFO,worker,"Job done, 3 items",2024-01-02T11:30:00
3,2024-01-03T12:00:00,WARNING,,"multi
line",2024-01-03T12:00:00
`

func testMeta() ExportMetadata {
	return ExportMetadata{
		ExportID:  "exp-1",
		StartDate: "2024-01-01T00:00:00.000Z",
		EndDate:   "2024-01-08T00:00:00.000Z",
		Severity:  "error",
	}
}

func TestWriter_WriteCSV(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, dir)

	res, err := w.WriteCSV(strings.NewReader(sampleCSV), "logs-export-2024-01-08.csv", testMeta())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "logs-export-2024-01-08.csv"), res.Path)
	assert.Equal(t, int64(3), res.Rows)
	assert.Equal(t, int64(len(sampleCSV)), res.Bytes)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(data))

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriter_WriteArrow(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, dir)

	res, err := w.WriteArrow(strings.NewReader(sampleCSV), "logs-export-2024-01-08.arrow", testMeta())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	assert.Positive(t, res.Bytes)

	reader := NewFileReader(nil)
	summary, err := reader.ReadSummary(res.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalRecords)
	assert.Equal(t, CSVHeader, summary.Fields)
	assert.Equal(t, "exp-1", summary.Metadata["export_id"])
	assert.Equal(t, "error", summary.Metadata["severity"])
	assert.NotContains(t, summary.Metadata, "source")

	rows, err := reader.ReadRows(res.Path, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Row{
		ID:        1,
		Timestamp: "2024-01-01T10:00:00",
		Severity:  "ERROR",
		Source:    "web-server",
		Message:   "Connection refused",
		CreatedAt: "2024-01-01T10:00:01",
	}, rows[0])
	assert.Equal(t, "Job done, 3 items", rows[1].Message)
	assert.Equal(t, "", rows[2].Source)
	assert.Equal(t, "multi\nline", rows[2].Message)

	limited, err := reader.ReadRows(res.Path, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestWriter_WriteArrowManyBatches(t *testing.T) {
	var b strings.Builder
	b.WriteString(strings.Join(CSVHeader, ",") + "\n")
	for i := 1; i <= chunkRows*2+5; i++ {
		fmt.Fprintf(&b, "%d,2024-01-01T00:00:00,DEBUG,api,line %d,2024-01-01T00:00:00\n", i, i)
	}

	w := NewWriter(nil, t.TempDir())
	res, err := w.WriteArrow(strings.NewReader(b.String()), "big.arrow", ExportMetadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(chunkRows*2+5), res.Rows)

	summary, err := NewFileReader(nil).ReadSummary(res.Path)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.NumBatches)
	assert.Empty(t, summary.Metadata)
}

func TestWriter_HeaderOnly(t *testing.T) {
	w := NewWriter(nil, t.TempDir())

	res, err := w.WriteCSV(strings.NewReader("id,timestamp,severity,source,message,created_at\n"), "empty.csv", ExportMetadata{})
	require.NoError(t, err)
	assert.Zero(t, res.Rows)

	res, err = w.WriteArrow(strings.NewReader("id,timestamp,severity,source,message,created_at\n"), "empty.arrow", ExportMetadata{})
	require.NoError(t, err)
	assert.Zero(t, res.Rows)
}

func TestWriter_FailedWriteLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, dir)

	src := iotest.ErrReader(errors.New("connection reset"))
	_, err := w.WriteCSV(src, "broken.csv", ExportMetadata{})
	require.Error(t, err)

	_, err = w.WriteArrow(strings.NewReader("id,timestamp,severity,source,message,created_at\nnot-a-number,a,b,c,d,e\n"), "broken.arrow", ExportMetadata{})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriter_RejectsPathsInFilename(t *testing.T) {
	w := NewWriter(nil, t.TempDir())
	_, err := w.WriteCSV(strings.NewReader(sampleCSV), "../escape.csv", ExportMetadata{})
	assert.Error(t, err)
}

func TestWriter_Manifest(t *testing.T) {
	w := NewWriter(nil, t.TempDir())

	entries, err := w.Manifest()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = w.WriteCSV(strings.NewReader(sampleCSV), "a.csv", testMeta())
	require.NoError(t, err)
	_, err = w.WriteArrow(strings.NewReader(sampleCSV), "a.arrow", testMeta())
	require.NoError(t, err)

	entries, err = w.Manifest()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, FormatCSV, entries[0].Format)
	assert.Equal(t, FormatArrow, entries[1].Format)
	assert.Equal(t, int64(3), entries[1].Count)
	assert.Equal(t, "exp-1", entries[1].ExportID)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", entries[1].StartDate)
}

func TestWriter_ConcurrentWritesToSameFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, dir)

	stream := func(label string, n int) string {
		var b strings.Builder
		b.WriteString(strings.Join(CSVHeader, ",") + "\n")
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&b, "%d,2024-01-01T00:00:00,INFO,%s,line %d,2024-01-01T00:00:00\n", i, label, i)
		}
		return b.String()
	}
	streams := map[string]string{"a": stream("a", 400), "b": stream("b", 250)}

	// The pipes keep both writers mid-stream at the same time.
	var wg sync.WaitGroup
	errs := make(chan error, len(streams))
	for _, body := range streams {
		pr, pw := io.Pipe()
		go func(body string) {
			for _, line := range strings.SplitAfter(body, "\n") {
				_, _ = pw.Write([]byte(line))
			}
			pw.Close()
		}(body)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.WriteCSV(pr, "logs-export-2024-01-01.csv", ExportMetadata{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs-export-2024-01-01.csv"))
	require.NoError(t, err)
	got := string(data)
	assert.True(t, got == streams["a"] || got == streams["b"], "file mixes both exports")

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	entries, err := w.Manifest()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
