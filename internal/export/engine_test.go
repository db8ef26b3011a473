package export

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	name    string
	sent    [][]Record
	short   bool
	failErr error
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) ExportBatch(ctx context.Context, records []Record) (int, error) {
	if s.failErr != nil {
		return 0, s.failErr
	}
	s.sent = append(s.sent, records)
	if s.short {
		return len(records) - 1, nil
	}
	return len(records), nil
}

func (s *stubSink) TestConnection(ctx context.Context) error { return s.failErr }

func testEngine(sinks ...Sink) *Engine {
	e := &Engine{
		breakers: map[string]*breaker{},
		logger:   log.New(io.Discard, "", 0),
	}
	for _, s := range sinks {
		e.addSink(s)
	}
	return e
}

func makeRecords(n int) []Record {
	records := make([]Record, n)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range records {
		records[i] = Record{
			Type: RecordScanResult,
			Time: base.Add(time.Duration(i) * time.Second),
			Data: map[string]interface{}{"seq": i},
		}
	}
	return records
}

func TestDeliverChunksBatches(t *testing.T) {
	sink := &stubSink{name: "stub"}
	e := testEngine(sink)

	require.NoError(t, e.deliver(context.Background(), sink, makeRecords(1200)))
	require.Len(t, sink.sent, 3)
	assert.Len(t, sink.sent[0], 500)
	assert.Len(t, sink.sent[1], 500)
	assert.Len(t, sink.sent[2], 200)
}

func TestDeliverRejectsShortCounts(t *testing.T) {
	sink := &stubSink{name: "stub", short: true}
	e := testEngine(sink)

	err := e.deliver(context.Background(), sink, makeRecords(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short delivery")
}

func TestSendAbortsOnOpenBreaker(t *testing.T) {
	sink := &stubSink{name: "stub"}
	e := testEngine(sink)
	b := e.breakers["stub"]
	b.mu.Lock()
	b.state = stateOpen
	b.openedAt = time.Now()
	b.mu.Unlock()

	start := time.Now()
	_, err := e.send(context.Background(), sink, makeRecords(1))
	assert.ErrorIs(t, err, errBreakerOpen)
	// An open breaker short-circuits instead of riding out the retry
	// schedule.
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, sink.sent)
}

func TestSinksNames(t *testing.T) {
	e := testEngine(&stubSink{name: "splunk"}, &stubSink{name: "elastic"})
	assert.Equal(t, []string{"splunk", "elastic"}, e.Sinks())
}

func TestTestSinks(t *testing.T) {
	e := testEngine(
		&stubSink{name: "good"},
		&stubSink{name: "bad", failErr: errors.New("dial tcp: refused")},
	)
	out := e.TestSinks(context.Background())
	assert.Equal(t, "ok", out["good"])
	assert.Equal(t, "dial tcp: refused", out["bad"])
}
