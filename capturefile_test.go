package capturefile

import (
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tempCapturePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.cap")
}

func TestOpenCreatesNewFile(t *testing.T) {
	path := tempCapturePath(t)

	cf, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true, InitialMetadata: []byte("hello")})
	require.NoError(t, err)
	defer cf.Close()

	require.Equal(t, uint64(0), cf.RecordCount())

	metadata, err := cf.GetMetadata()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), metadata)
}

func TestOpenMissingFileForReadFails(t *testing.T) {
	path := tempCapturePath(t)
	_, err := Open(CaptureFileOpts{FilePath: path, ToWrite: false})
	require.Error(t, err)
}

func TestOnlyOneWriterAtATime(t *testing.T) {
	path := tempCapturePath(t)

	first, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestMultipleReadersCoexistWithOneWriter(t *testing.T) {
	path := tempCapturePath(t)

	writer, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	defer writer.Close()

	readerA, err := Open(CaptureFileOpts{FilePath: path, ToWrite: false})
	require.NoError(t, err)
	defer readerA.Close()

	readerB, err := Open(CaptureFileOpts{FilePath: path, ToWrite: false})
	require.NoError(t, err)
	defer readerB.Close()
}

func TestAddRecordRequiresCommitToBeVisible(t *testing.T) {
	path := tempCapturePath(t)

	writer, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	defer writer.Close()

	reader, err := Open(CaptureFileOpts{FilePath: path, ToWrite: false})
	require.NoError(t, err)
	defer reader.Close()

	_, err = writer.AddRecord([]byte("uncommitted"))
	require.NoError(t, err)

	require.NoError(t, reader.Refresh())
	require.Equal(t, uint64(0), reader.RecordCount())

	require.NoError(t, writer.Commit())
	require.NoError(t, reader.Refresh())
	require.Equal(t, uint64(1), reader.RecordCount())

	record, err := reader.RecordAt(1)
	require.NoError(t, err)
	require.Equal(t, []byte("uncommitted"), record)
}

func TestRecordAtOutOfRange(t *testing.T) {
	path := tempCapturePath(t)
	cf, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	defer cf.Close()

	_, err = cf.RecordAt(1)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = cf.AddRecord([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, cf.Commit())

	_, err = cf.RecordAt(0)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = cf.RecordAt(2)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestReadOnlyHandleCannotMutate(t *testing.T) {
	path := tempCapturePath(t)
	writer, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	writer.Close()

	reader, err := Open(CaptureFileOpts{FilePath: path, ToWrite: false})
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.AddRecord([]byte("x"))
	require.ErrorIs(t, err, ErrNotOpenForWrite)

	err = reader.SetMetadata([]byte("x"))
	require.ErrorIs(t, err, ErrNotOpenForWrite)

	err = reader.Commit()
	require.ErrorIs(t, err, ErrNotOpenForWrite)
}

func TestOperationsOnClosedHandleFail(t *testing.T) {
	path := tempCapturePath(t)
	cf, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	_, err = cf.AddRecord([]byte("x"))
	require.ErrorIs(t, err, ErrNotOpen)

	_, err = cf.GetMetadata()
	require.ErrorIs(t, err, ErrNotOpen)

	err = cf.Refresh()
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestManyRecordsSurviveReopenAndIteration(t *testing.T) {
	path := tempCapturePath(t)

	const n = 200

	writer, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, err := writer.AddRecord([]byte(fmt.Sprintf("record-%04d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Commit())
	require.NoError(t, writer.Close())

	reader, err := Open(CaptureFileOpts{FilePath: path, ToWrite: false})
	require.NoError(t, err)
	defer reader.Close()

	require.Equal(t, uint64(n), reader.RecordCount())

	for i := 0; i < n; i++ {
		record, err := reader.RecordAt(uint64(i + 1))
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("record-%04d", i)), record)
	}

	it := reader.Records(1)
	count := 0
	for it.Next() {
		require.Equal(t, []byte(fmt.Sprintf("record-%04d", count)), it.Record())
		count++
	}
	require.NoError(t, it.Err())
	require.Equal(t, n, count)
}

func TestCompressionBlockFlushRoundTrip(t *testing.T) {
	path := tempCapturePath(t)

	writer, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)

	const n = 50
	records := make([][]byte, n)
	for i := 0; i < n; i++ {
		records[i] = []byte(fmt.Sprintf("record-%04d-%s", i, string(make([]byte, 1000))))
	}

	for _, record := range records {
		_, err := writer.AddRecord(record)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Commit())
	require.NoError(t, writer.Close())

	reader, err := Open(CaptureFileOpts{FilePath: path, ToWrite: false})
	require.NoError(t, err)
	defer reader.Close()

	require.Equal(t, uint64(n), reader.RecordCount())
	for i, want := range records {
		got, err := reader.RecordAt(uint64(i + 1))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRecordRange(t *testing.T) {
	path := tempCapturePath(t)
	writer, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := writer.AddRecord([]byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, writer.Commit())
	defer writer.Close()

	records, err := writer.RecordRange(3, 7)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for i, record := range records {
		require.Equal(t, []byte{byte(2 + i)}, record)
	}
}

// TestRecordRangeStopsIteratorEarly guards against the walking goroutine
// started by recordIterator blocking forever on a full records channel when
// the requested range is much smaller than what remains. With 200 records
// and a range of only 4, the producer would fill the 64-entry buffer and
// then block in emit's select until cancel is closed; RecordRange must
// close the iterator itself once it has what it needs.
func TestRecordRangeStopsIteratorEarly(t *testing.T) {
	path := tempCapturePath(t)
	writer, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	defer writer.Close()

	const n = 200
	for i := 0; i < n; i++ {
		_, err := writer.AddRecord([]byte(fmt.Sprintf("record-%04d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Commit())

	runtime.Gosched()
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		records, err := writer.RecordRange(1, 5)
		require.NoError(t, err)
		require.Len(t, records, 4)
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+1
	}, time.Second, 10*time.Millisecond, "walking goroutines leaked past their RecordRange calls")
}

func TestSetMetadataNilClears(t *testing.T) {
	path := tempCapturePath(t)
	cf, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true, InitialMetadata: []byte("initial")})
	require.NoError(t, err)
	defer cf.Close()

	require.NoError(t, cf.SetMetadata(nil))
	metadata, err := cf.GetMetadata()
	require.NoError(t, err)
	require.Nil(t, metadata)
}

func TestForceNewEmptyFileOverwrites(t *testing.T) {
	path := tempCapturePath(t)

	first, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true, InitialMetadata: []byte("first")})
	require.NoError(t, err)
	_, err = first.AddRecord([]byte("a record"))
	require.NoError(t, err)
	require.NoError(t, first.Commit())
	require.NoError(t, first.Close())

	second, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true, ForceNewEmptyFile: true, InitialMetadata: []byte("second")})
	require.NoError(t, err)
	defer second.Close()

	require.Equal(t, uint64(0), second.RecordCount())
	metadata, err := second.GetMetadata()
	require.NoError(t, err)
	require.Equal(t, []byte("second"), metadata)
}

func TestStringSummary(t *testing.T) {
	path := tempCapturePath(t)
	cf, err := Open(CaptureFileOpts{FilePath: path, ToWrite: true})
	require.NoError(t, err)
	defer cf.Close()

	require.Contains(t, cf.String(), "writing")
	require.Contains(t, cf.String(), "0 records")
}
