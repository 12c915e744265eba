package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aasha-care/aasha-relay/internal/client"
	"github.com/aasha-care/aasha-relay/internal/model"
	"github.com/aasha-care/aasha-relay/internal/repo"
	"github.com/aasha-care/aasha-relay/internal/service"
)

type fixture struct {
	store     *repo.MemoryStore
	relay     *service.Relay
	processor *service.Processor
	hits      *atomic.Int64
}

func newFixture(t *testing.T, status int, body string) *fixture {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	store := repo.NewMemoryStore()
	relay := service.NewRelay(store, store, store, client.NewWebhookClient(srv.URL))
	processor := service.NewProcessor(service.NewPoller(store, model.MaxBatchSize), relay)
	return &fixture{store: store, relay: relay, processor: processor, hits: &hits}
}

func (f *fixture) enabledProfile() model.ElderlyProfile {
	return f.store.AddProfile(model.ElderlyProfile{
		FirstName:       "Sunita",
		Language:        "Hindi",
		TelegramChatID:  "551234",
		TelegramEnabled: true,
	})
}

func (f *fixture) queue(profileID uuid.UUID) model.QueuedMessage {
	return f.store.AddMessage(model.QueuedMessage{
		ElderlyProfileID: profileID,
		MessageType:      model.TypeMedicineReminder,
		MessageContent:   "Time for your evening tablet",
		ScheduledFor:     time.Now().Add(-time.Minute),
	})
}

func (f *fixture) message(t *testing.T, id uuid.UUID) model.QueuedMessage {
	t.Helper()

	m, err := f.store.GetMessage(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMessage() error: %v", err)
	}
	return m
}

func TestProcessor_AlwaysFailingEndpointFailsAfterThreePasses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusInternalServerError, "workflow error")
	m := f.queue(f.enabledProfile().ID)
	ctx := context.Background()

	wantRetries := []int{1, 2, 3}
	wantStatus := []model.Status{model.Pending, model.Pending, model.Failed}

	for pass := range wantRetries {
		res, err := f.processor.Run(ctx)
		if err != nil {
			t.Fatalf("pass %d: Run() error: %v", pass+1, err)
		}
		if res.Processed != 1 || res.Failed != 1 {
			t.Fatalf("pass %d: unexpected results %+v", pass+1, res)
		}

		got := f.message(t, m.ID)
		if got.RetryCount != wantRetries[pass] || got.Status != wantStatus[pass] {
			t.Fatalf("pass %d: expected retry=%d status=%s, got retry=%d status=%s",
				pass+1, wantRetries[pass], wantStatus[pass], got.RetryCount, got.Status)
		}
		if got.DeliveryError == nil || *got.DeliveryError == "" {
			t.Fatalf("pass %d: expected delivery error to be recorded", pass+1)
		}
	}

	res, err := f.processor.Run(ctx)
	if err != nil {
		t.Fatalf("Run() after failure error: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("failed message must not be selected again, got %+v", res)
	}
	if n := f.hits.Load(); n != 3 {
		t.Fatalf("expected 3 relay attempts, got %d", n)
	}
	if n := len(f.store.Logs()); n != 0 {
		t.Fatalf("expected no delivery log for failed message, got %d", n)
	}
}

func TestProcessor_SuccessMarksSentWithOneLogEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, `{"success":true,"telegram_message_id":901}`)
	cache := &fakeCache{}
	f.relay.WithCache(cache)

	profile := f.enabledProfile()
	med := model.EntityMedication
	medID := uuid.New()
	m := f.store.AddMessage(model.QueuedMessage{
		ElderlyProfileID:  profile.ID,
		MessageType:       model.TypeMedicineReminder,
		MessageContent:    "Take Metformin 500mg",
		ScheduledFor:      time.Now().Add(-time.Second),
		RelatedEntityType: &med,
		RelatedEntityID:   &medID,
		Metadata:          json.RawMessage(`{"dose":"500mg"}`),
	})

	res, err := f.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res != (service.Results{Processed: 1, Sent: 1}) {
		t.Fatalf("unexpected results %+v", res)
	}

	got := f.message(t, m.ID)
	if got.Status != model.Sent || got.SentAt == nil || got.RetryCount != 0 {
		t.Fatalf("expected sent row with sent_at, got %+v", got)
	}

	logs := f.store.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected exactly one delivery log, got %d", len(logs))
	}
	e := logs[0]
	if e.Direction != model.DirectionSent || e.MessageText != m.MessageContent || e.AIReply {
		t.Fatalf("unexpected log entry %+v", e)
	}
	if e.RemoteMessageID == nil || *e.RemoteMessageID != "901" {
		t.Fatalf("expected remote id 901, got %v", e.RemoteMessageID)
	}
	if e.RelatedEntityID == nil || *e.RelatedEntityID != medID {
		t.Fatalf("expected related entity to be carried over, got %v", e.RelatedEntityID)
	}
	if string(e.Metadata) != `{"dose":"500mg"}` {
		t.Fatalf("expected metadata to be carried over, got %s", e.Metadata)
	}

	if len(cache.stored) != 1 || cache.stored[m.ID] != "901" {
		t.Fatalf("expected delivery to be cached, got %+v", cache.stored)
	}

	res, err = f.processor.Run(context.Background())
	if err != nil || res.Processed != 0 {
		t.Fatalf("sent message must not be selected again, res=%+v err=%v", res, err)
	}
}

func TestProcessor_UnusableChannelIsCancelledWithoutRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, `{}`)

	disabled := f.store.AddProfile(model.ElderlyProfile{TelegramChatID: "1", TelegramEnabled: false})
	noChat := f.store.AddProfile(model.ElderlyProfile{TelegramEnabled: true})

	msgs := []model.QueuedMessage{
		f.queue(disabled.ID),
		f.queue(noChat.ID),
		f.queue(uuid.New()),
	}

	res, err := f.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res != (service.Results{Processed: 3, Skipped: 3}) {
		t.Fatalf("unexpected results %+v", res)
	}

	for _, m := range msgs {
		got := f.message(t, m.ID)
		if got.Status != model.Cancelled || got.RetryCount != 0 {
			t.Fatalf("expected cancelled with retry 0, got status=%s retry=%d", got.Status, got.RetryCount)
		}
	}
	if n := f.hits.Load(); n != 0 {
		t.Fatalf("cancelled messages must not be relayed, got %d calls", n)
	}

	res, err = f.processor.Run(context.Background())
	if err != nil || res.Processed != 0 {
		t.Fatalf("cancelled messages must not be selected again, res=%+v err=%v", res, err)
	}
}

func TestProcessor_NothingDue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, `{}`)
	f.store.AddMessage(model.QueuedMessage{
		ElderlyProfileID: f.enabledProfile().ID,
		ScheduledFor:     time.Now().Add(time.Hour),
	})

	res, err := f.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res != (service.Results{}) {
		t.Fatalf("expected empty results, got %+v", res)
	}
}

func TestProcessor_BatchNeverExceedsFifty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, `{}`)
	profile := f.enabledProfile()
	for i := 0; i < 75; i++ {
		f.queue(profile.ID)
	}

	res, err := f.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Processed != model.MaxBatchSize || res.Sent != model.MaxBatchSize {
		t.Fatalf("expected a full batch of %d, got %+v", model.MaxBatchSize, res)
	}

	res, err = f.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if res.Processed != 25 {
		t.Fatalf("expected remaining 25 on second pass, got %+v", res)
	}
}

func TestProcessor_QueueReadErrorIsFatal(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	broken := &failingQueue{QueueRepository: store, err: errors.New("relation does not exist")}
	relay := service.NewRelay(broken, store, store, &countingClient{})
	p := service.NewProcessor(service.NewPoller(broken, 10), relay)

	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, broken.err) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
}

func TestProcessor_StatusWriteFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	profile := store.AddProfile(model.ElderlyProfile{TelegramChatID: "7", TelegramEnabled: true})
	for i := 0; i < 3; i++ {
		store.AddMessage(model.QueuedMessage{ElderlyProfileID: profile.ID, MessageContent: "hi"})
	}

	flaky := &failingQueue{QueueRepository: store, updateErr: errors.New("connection reset")}
	c := &countingClient{}
	p := service.NewProcessor(service.NewPoller(store, 50), service.NewRelay(flaky, store, store, c))

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Sent != 3 || c.calls.Load() != 3 {
		t.Fatalf("expected all three relayed, res=%+v calls=%d", res, c.calls.Load())
	}

	// The rows stayed pending, so the next pass relays them again (at-least-once).
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if n := c.calls.Load(); n != 6 {
		t.Fatalf("expected rows to be relayed again, got %d calls", n)
	}
}

func TestProcessor_CachedDeliveryIsNotRelayedTwice(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	profile := store.AddProfile(model.ElderlyProfile{TelegramChatID: "7", TelegramEnabled: true})
	m := store.AddMessage(model.QueuedMessage{ElderlyProfileID: profile.ID, MessageContent: "hi"})

	flaky := &failingQueue{QueueRepository: store, updateErr: errors.New("connection reset")}
	c := &countingClient{}
	cache := &fakeCache{}
	relay := service.NewRelay(flaky, store, store, c).WithCache(cache)
	p := service.NewProcessor(service.NewPoller(store, 50), relay)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	flaky.updateErr = nil
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if res.Sent != 1 || c.calls.Load() != 1 {
		t.Fatalf("expected cached row to be marked sent without a relay, res=%+v calls=%d", res, c.calls.Load())
	}

	got, _ := store.GetMessage(context.Background(), m.ID)
	if got.Status != model.Sent {
		t.Fatalf("expected sent, got %s", got.Status)
	}
	if n := len(store.Logs()); n != 1 {
		t.Fatalf("expected a single log entry, got %d", n)
	}
}

func TestProcessor_CallerCancellationDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			cancel()
		}
		_, _ = w.Write([]byte(`{"message_id":1}`))
	}))
	t.Cleanup(srv.Close)

	store := repo.NewMemoryStore()
	profile := store.AddProfile(model.ElderlyProfile{TelegramChatID: "7", TelegramEnabled: true})
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, store.AddMessage(model.QueuedMessage{ElderlyProfileID: profile.ID, MessageContent: "hi"}).ID)
	}

	relay := service.NewRelay(store, store, store, client.NewWebhookClient(srv.URL))
	p := service.NewProcessor(service.NewPoller(store, 50), relay)

	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res != (service.Results{Processed: 3, Sent: 3}) {
		t.Fatalf("expected the whole batch to be delivered, got %+v", res)
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("expected 3 relay calls, got %d", n)
	}
	for _, id := range ids {
		got, _ := store.GetMessage(context.Background(), id)
		if got.Status != model.Sent {
			t.Fatalf("expected %s to be sent, got status=%s retry=%d", id, got.Status, got.RetryCount)
		}
	}
	if n := len(store.Logs()); n != 3 {
		t.Fatalf("expected 3 delivery logs, got %d", n)
	}
}

func TestProcessor_LockHeldElsewhere(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, `{}`)
	f.queue(f.enabledProfile().ID)
	f.processor.WithLocker(&fakeLocker{held: true})

	_, err := f.processor.Run(context.Background())
	if !errors.Is(err, service.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if f.hits.Load() != 0 {
		t.Fatalf("expected no relay calls without the lock")
	}
}

func TestProcessor_ReleasesLock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, http.StatusOK, `{}`)
	f.queue(f.enabledProfile().ID)
	l := &fakeLocker{}
	f.processor.WithLocker(l)

	if _, err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if l.held {
		t.Fatalf("expected lock to be released after the run")
	}
	if l.acquired != 1 {
		t.Fatalf("expected one acquisition, got %d", l.acquired)
	}
}

type failingQueue struct {
	repo.QueueRepository
	err       error
	updateErr error
}

func (f *failingQueue) FetchDue(ctx context.Context, now time.Time, limit int) ([]model.QueuedMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.QueueRepository.FetchDue(ctx, now, limit)
}

func (f *failingQueue) UpdateStatus(ctx context.Context, id uuid.UUID, u model.StatusUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.QueueRepository.UpdateStatus(ctx, id, u)
}

type countingClient struct {
	calls atomic.Int64
	err   error
	last  client.RelayRequest
	mu    sync.Mutex
}

func (c *countingClient) Relay(ctx context.Context, r client.RelayRequest) (client.Receipt, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.last = r
	c.mu.Unlock()
	if c.err != nil {
		return client.Receipt{}, c.err
	}
	return client.Receipt{RemoteMessageID: "r-1"}, nil
}

type fakeCache struct {
	mu     sync.Mutex
	stored map[uuid.UUID]string
}

func (c *fakeCache) StoreSent(ctx context.Context, id uuid.UUID, remote string, sentAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stored == nil {
		c.stored = make(map[uuid.UUID]string)
	}
	c.stored[id] = remote
	return nil
}

func (c *fakeCache) LookupSent(ctx context.Context, id uuid.UUID) (string, time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.stored[id]
	return v, time.Time{}, ok, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquired int
}

func (l *fakeLocker) TryLock(ctx context.Context, name string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		return nil
	}, true, nil
}
