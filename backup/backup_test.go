package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type staticExporter struct {
	data []byte
	err  error
}

func (e staticExporter) Export(context.Context) ([]byte, error) { return e.data, e.err }

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Put(context.Context, string, []byte) error {
	return errors.New("bucket unavailable")
}

type fakeS3 struct {
	mu   sync.Mutex
	keys []string
	body []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

var fixedTime = time.Date(2026, time.March, 1, 12, 30, 0, 0, time.UTC)

// =============================================================================
// NAMES
// =============================================================================

func TestObjectName(t *testing.T) {
	name := ObjectName(fixedTime)

	assert.Regexp(t, regexp.MustCompile(`^hero_coins_20260301T123000Z_[0-9a-f]{8}\.json$`), name)
	assert.NotEqual(t, name, ObjectName(fixedTime), "names must not collide")
}

// =============================================================================
// SINKS
// =============================================================================

func TestDirSink_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Put(context.Background(), "b.json", []byte(`{}`)))

	data, err := os.ReadFile(filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files left behind")
}

func TestS3Sink_PutUsesPrefix(t *testing.T) {
	client := &fakeS3{}
	sink := &S3Sink{client: client, bucket: "hero", prefix: "backups/prod"}

	require.NoError(t, sink.Put(context.Background(), "b.json", []byte("data")))

	assert.Equal(t, []string{"hero/backups/prod/b.json"}, client.keys)
	assert.Equal(t, "data", string(client.body))
}

func TestNewS3Sink_RequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{})
	assert.Error(t, err)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestRunOnce_WritesEverySink(t *testing.T) {
	// GIVEN: Two sinks
	dir, err := NewDirSink(t.TempDir())
	require.NoError(t, err)
	client := &fakeS3{}
	s3Sink := &S3Sink{client: client, bucket: "hero"}
	sched := NewScheduler(staticExporter{data: []byte(`{"g1":{}}`)}, 0, nil, dir, s3Sink)
	sched.now = func() time.Time { return fixedTime }

	// WHEN: Running once
	res, err := sched.RunOnce(context.Background())

	// THEN: Both sinks hold identical bytes
	require.NoError(t, err)
	assert.Equal(t, 9, res.Bytes)
	assert.Equal(t, []string{dir.Name(), s3Sink.Name()}, res.Sinks)
	data, err := os.ReadFile(filepath.Join(dir.Dir, res.Name))
	require.NoError(t, err)
	assert.Equal(t, client.body, data)
}

func TestRunOnce_SinkFailureDoesNotStopOthers(t *testing.T) {
	dir, err := NewDirSink(t.TempDir())
	require.NoError(t, err)
	sched := NewScheduler(staticExporter{data: []byte(`{}`)}, 0, nil, failingSink{}, dir)

	res, err := sched.RunOnce(context.Background())

	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Equal(t, []string{dir.Name()}, res.Sinks)
}

func TestRunOnce_NothingToBackUp(t *testing.T) {
	dir, err := NewDirSink(t.TempDir())
	require.NoError(t, err)
	sched := NewScheduler(staticExporter{err: ledger.ErrNoDocument}, 0, nil, dir)

	_, err = sched.RunOnce(context.Background())

	assert.ErrorIs(t, err, ledger.ErrNoDocument)
}

func TestRunOnce_NoSinks(t *testing.T) {
	sched := NewScheduler(staticExporter{data: []byte(`{}`)}, time.Hour, nil)

	_, err := sched.RunOnce(context.Background())

	assert.Error(t, err)
	assert.False(t, sched.Enabled())
}

func TestScheduler_StartRunsPeriodically(t *testing.T) {
	// GIVEN: A scheduler with a short interval
	client := &fakeS3{}
	sched := NewScheduler(staticExporter{data: []byte(`{}`)}, 20*time.Millisecond, nil, &S3Sink{client: client, bucket: "hero"})
	require.True(t, sched.Enabled())

	// WHEN: Started
	require.NoError(t, sched.Start())
	t.Cleanup(func() { sched.Stop() })

	// THEN: Backups arrive without being asked
	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.keys) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sched.Stop())
}

func TestScheduler_DisabledStartIsNoop(t *testing.T) {
	dir, err := NewDirSink(t.TempDir())
	require.NoError(t, err)
	sched := NewScheduler(staticExporter{}, 0, nil, dir)

	require.NoError(t, sched.Start())
	assert.NoError(t, sched.Stop())
}
