package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

// fakeService returns err from its first failures calls, or from every call
// when failures is zero.
type fakeService struct {
	mu        sync.Mutex
	err       error
	failures  int
	calls     int
	reindexed map[string]string
	courses   []rag.Course
	removed   []string
}

func (f *fakeService) fail() error {
	f.calls++
	if f.failures > 0 && f.calls > f.failures {
		return nil
	}
	return f.err
}

func (f *fakeService) Reindex(_ context.Context, reference, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	if reference == "" || content == "" {
		return fmt.Errorf("%w: reference and content are required", rag.ErrInvalidDocument)
	}
	if f.reindexed == nil {
		f.reindexed = map[string]string{}
	}
	f.reindexed[reference] = content
	return nil
}

func (f *fakeService) ReindexCourse(_ context.Context, c rag.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.courses = append(f.courses, c)
	return nil
}

func (f *fakeService) RemoveReference(_ context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.removed = append(f.removed, reference)
	return nil
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func startSubscriber(t *testing.T, svc Service) (*Subscriber, *nats.Conn) {
	t.Helper()
	return startSubscriberWithOptions(t, context.Background(), svc, Options{
		SubjectPrefix: "lms.documents",
		Queue:         "coursechat",
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
	})
}

func startSubscriberWithOptions(t *testing.T, ctx context.Context, svc Service, opts Options) (*Subscriber, *nats.Conn) {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := NewSubscriber(nc, svc, opts, nil)
	require.NoError(t, err)
	require.NoError(t, sub.Start(ctx))
	t.Cleanup(func() { _ = sub.Stop() })
	return sub, nc
}

// blockingService holds Reindex until release is closed or its context ends,
// then reports the outcome on result.
type blockingService struct {
	fakeService
	started chan struct{}
	release chan struct{}
	result  chan error
}

func newBlockingService() *blockingService {
	return &blockingService{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  make(chan error, 1),
	}
}

func (b *blockingService) Reindex(ctx context.Context, _, _ string) error {
	close(b.started)
	var err error
	select {
	case <-b.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.result <- err
	return err
}

func request(t *testing.T, nc *nats.Conn, subject string, payload any) Reply {
	t.Helper()
	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	default:
		var err error
		data, err = json.Marshal(p)
		require.NoError(t, err)
	}
	msg, err := nc.Request(subject, data, 5*time.Second)
	require.NoError(t, err)

	var reply Reply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(nil, &fakeService{}, Options{SubjectPrefix: "x"}, nil)
	assert.Error(t, err)

	nc := &nats.Conn{}
	_, err = NewSubscriber(nc, nil, Options{SubjectPrefix: "x"}, nil)
	assert.Error(t, err)
	_, err = NewSubscriber(nc, &fakeService{}, Options{}, nil)
	assert.Error(t, err)
}

func TestSubscriber_Upsert(t *testing.T) {
	svc := &fakeService{}
	sub, nc := startSubscriber(t, svc)

	reply := request(t, nc, sub.UpsertedSubject(), UpsertEvent{Reference: "course-1", Content: "Cloud fundamentals"})
	assert.Equal(t, Reply{OK: true}, reply)
	assert.Equal(t, "Cloud fundamentals", svc.reindexed["course-1"])
}

func TestSubscriber_UpsertCourse(t *testing.T) {
	svc := &fakeService{}
	sub, nc := startSubscriber(t, svc)

	reply := request(t, nc, sub.UpsertedSubject(), UpsertEvent{
		Reference: "course-net",
		Course: &CourseEvent{
			Name:        "Networking basics",
			Description: "intro to TCP/IP",
			Topics:      []rag.Topic{{Name: "Routing", Description: "paths"}},
		},
	})
	require.True(t, reply.OK, reply.Error)
	require.Len(t, svc.courses, 1)
	assert.Equal(t, "course-net", svc.courses[0].Reference)
	assert.Equal(t, "Networking basics intro to TCP/IP Routing: paths", rag.ComposeCourseContent(svc.courses[0]))
}

func TestSubscriber_Delete(t *testing.T) {
	svc := &fakeService{}
	sub, nc := startSubscriber(t, svc)

	reply := request(t, nc, sub.DeletedSubject(), DeleteEvent{Reference: "course-1"})
	assert.True(t, reply.OK)
	assert.Equal(t, []string{"course-1"}, svc.removed)
}

func TestSubscriber_RetriesTransientEmbeddingFailures(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("%w: model overloaded", rag.ErrEmbeddingGeneration), failures: 2}
	sub, nc := startSubscriber(t, svc)

	reply := request(t, nc, sub.UpsertedSubject(), UpsertEvent{Reference: "r", Content: "c"})
	assert.True(t, reply.OK, reply.Error)
	assert.Equal(t, 3, svc.callCount())
}

func TestSubscriber_GivesUpAfterMaxRetries(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("%w: model down", rag.ErrEmbeddingGeneration)}
	sub, nc := startSubscriber(t, svc)

	reply := request(t, nc, sub.UpsertedSubject(), UpsertEvent{Reference: "r", Content: "c"})
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "model down")
	assert.Equal(t, 4, svc.callCount(), "one attempt plus three retries")
}

func TestSubscriber_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		svc     *fakeService
		payload any
		calls   int
		errPart string
	}{
		{
			name:    "malformed json",
			svc:     &fakeService{},
			payload: `{"reference":`,
			errPart: "invalid event payload",
		},
		{
			name:    "content and course",
			svc:     &fakeService{},
			payload: UpsertEvent{Reference: "r", Content: "c", Course: &CourseEvent{Name: "n"}},
			errPart: "mutually exclusive",
		},
		{
			name:    "invalid document",
			svc:     &fakeService{},
			payload: UpsertEvent{Reference: "r"},
			calls:   1,
			errPart: "invalid document",
		},
		{
			name:    "store failure",
			svc:     &fakeService{err: errors.New("store unavailable")},
			payload: UpsertEvent{Reference: "r", Content: "c"},
			calls:   1,
			errPart: "store unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, nc := startSubscriber(t, tt.svc)
			reply := request(t, nc, sub.UpsertedSubject(), tt.payload)
			assert.False(t, reply.OK)
			assert.Contains(t, reply.Error, tt.errPart)
			assert.Equal(t, tt.calls, tt.svc.callCount())
		})
	}
}

func TestSubscriber_FireAndForget(t *testing.T) {
	svc := &fakeService{}
	sub, nc := startSubscriber(t, svc)

	data, err := json.Marshal(DeleteEvent{Reference: "course-9"})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(sub.DeletedSubject(), data))
	require.NoError(t, nc.Flush())

	assert.Eventually(t, func() bool { return svc.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriber_StartTwice(t *testing.T) {
	sub, _ := startSubscriber(t, &fakeService{})
	assert.Error(t, sub.Start(context.Background()))
}

func publishUpsert(t *testing.T, nc *nats.Conn, subject string) {
	t.Helper()
	data, err := json.Marshal(UpsertEvent{Reference: "course-1", Content: "Cloud fundamentals"})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(subject, data))
	require.NoError(t, nc.Flush())
}

func TestSubscriber_StopWaitsForInFlightReindex(t *testing.T) {
	svc := newBlockingService()
	ctx, cancel := context.WithCancel(context.Background())
	sub, nc := startSubscriberWithOptions(t, ctx, svc, Options{
		SubjectPrefix: "lms.documents",
		Queue:         "coursechat",
		RetryInterval: time.Millisecond,
	})

	publishUpsert(t, nc, sub.UpsertedSubject())
	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("reindex never started")
	}

	// A shutdown signal on the start context must not reach the handler.
	cancel()

	stopped := make(chan error, 1)
	go func() { stopped <- sub.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a reindex was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(svc.release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the reindex finished")
	}
	assert.NoError(t, <-svc.result, "in-flight reindex must not be cancelled by Stop")
}

func TestSubscriber_StopCancelsAfterDrainTimeout(t *testing.T) {
	svc := newBlockingService()
	sub, nc := startSubscriberWithOptions(t, context.Background(), svc, Options{
		SubjectPrefix: "lms.documents",
		Queue:         "coursechat",
		RetryInterval: time.Millisecond,
		DrainTimeout:  50 * time.Millisecond,
	})

	publishUpsert(t, nc, sub.UpsertedSubject())
	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("reindex never started")
	}

	start := time.Now()
	require.NoError(t, sub.Stop())
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-svc.result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never cancelled")
	}
}
