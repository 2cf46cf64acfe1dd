package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
	"github.com/apk-analysis/dexcatalog/internal/domain"
	"github.com/apk-analysis/dexcatalog/internal/service"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeDelivery struct {
	acked, nacked, requeued bool
}

func (d *fakeDelivery) Ack(multiple bool) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(multiple, requeue bool) error {
	d.nacked = true
	d.requeued = requeue
	return nil
}

type fakePublisher struct {
	keys   []string
	bodies [][]byte
	events []*CatalogEvent
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, body []byte) error {
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, body)
	return p.err
}

func (p *fakePublisher) PublishEvent(ctx context.Context, ev *CatalogEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

// stubService 只实现 Open
type stubService struct {
	service.CatalogService
	req service.OpenRequest
	rec *domain.CatalogRecord
	err error
}

func (s *stubService) Open(ctx context.Context, req service.OpenRequest) (*domain.CatalogRecord, error) {
	s.req = req
	return s.rec, s.err
}

func TestProcessMessage(t *testing.T) {
	var got *CatalogRequest
	c := NewConsumer(nil, func(ctx context.Context, msg *CatalogRequest) error {
		got = msg
		return nil
	}, 2, testLogger())

	d := &fakeDelivery{}
	c.processMessage(context.Background(), 0, []byte(`{"request_id":"r1","path":"/in/app.apk","api_level":26}`), d)
	assert.True(t, d.acked)
	assert.False(t, d.nacked)
	require.NotNil(t, got)
	assert.Equal(t, "/in/app.apk", got.Path)
	require.NotNil(t, got.APILevel)
	assert.Equal(t, 26, *got.APILevel)
}

func TestProcessMessage_Rejected(t *testing.T) {
	calls := 0
	c := NewConsumer(nil, func(ctx context.Context, msg *CatalogRequest) error {
		calls++
		return errors.New("boom")
	}, 1, testLogger())

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"no path", `{"request_id":"r"}`},
		{"handler error", `{"path":"/in/a.apk"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDelivery{}
			c.processMessage(context.Background(), 0, []byte(tt.body), d)
			assert.True(t, d.nacked)
			assert.False(t, d.requeued)
			assert.False(t, d.acked)
		})
	}
	assert.Equal(t, 1, calls)
}

func TestOpenHandler_Ready(t *testing.T) {
	svc := &stubService{rec: &domain.CatalogRecord{
		ID: "c1", Status: domain.CatalogStatusReady, SHA256: "ab", ClassCount: 5, OuterCount: 2, Packer: "DexGuard",
	}}
	pub := &fakePublisher{}
	h := NewOpenHandler(svc, pub, testLogger())

	require.NoError(t, h(context.Background(), &CatalogRequest{RequestID: "r1", Path: "/in/app.apk"}))
	assert.Equal(t, "app.apk", svc.req.Name)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "r1", ev.RequestID)
	assert.Equal(t, "c1", ev.CatalogID)
	assert.Equal(t, "ready", ev.Status)
	assert.Equal(t, 5, ev.Classes)
	assert.Equal(t, "DexGuard", ev.Packer)
	assert.Empty(t, ev.Error)
}

func TestOpenHandler_InputFailureIsAcked(t *testing.T) {
	svc := &stubService{
		rec: &domain.CatalogRecord{ID: "c2", Status: domain.CatalogStatusFailed},
		err: &catalog.Error{Kind: catalog.UnsupportedInput, Err: errors.New("ODEX isn't supported.")},
	}
	pub := &fakePublisher{}
	h := NewOpenHandler(svc, pub, testLogger())

	assert.NoError(t, h(context.Background(), &CatalogRequest{Path: "/in/x.odex", Name: "x"}))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "failed", pub.events[0].Status)
	assert.Equal(t, "unsupported input", pub.events[0].ErrorKind)
	assert.Equal(t, "c2", pub.events[0].CatalogID)
}

func TestOpenHandler_ServiceErrorReturned(t *testing.T) {
	svc := &stubService{err: service.ErrTooManyOpen}
	pub := &fakePublisher{err: errors.New("mq down")}
	h := NewOpenHandler(svc, pub, testLogger())

	err := h(context.Background(), &CatalogRequest{Path: "/in/a.apk"})
	assert.ErrorIs(t, err, service.ErrTooManyOpen)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "too many open", pub.events[0].ErrorKind)

	// 没有结果队列时同样可用
	h = NewOpenHandler(svc, nil, testLogger())
	assert.Error(t, h(context.Background(), &CatalogRequest{Path: "/in/a.apk"}))
}

func TestProducer_PublishEvent(t *testing.T) {
	pub := &fakePublisher{}
	p := &Producer{mq: pub, logger: testLogger()}

	require.NoError(t, p.PublishEvent(context.Background(), &CatalogEvent{CatalogID: "c1", Status: "ready", Source: "a.apk"}))
	require.Len(t, pub.bodies, 1)
	assert.Equal(t, []string{"catalog.event.ready"}, pub.keys)

	var ev CatalogEvent
	require.NoError(t, json.Unmarshal(pub.bodies[0], &ev))
	assert.Equal(t, "c1", ev.CatalogID)

	pub.err = errors.New("closed")
	assert.Error(t, p.PublishEvent(context.Background(), &CatalogEvent{}))
	assert.Equal(t, "catalog.event.unknown", pub.keys[1])
}

func TestBuildURL(t *testing.T) {
	cfg := &RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "p@ss", VHost: "/"}
	assert.Equal(t, "amqp://guest:p%40ss@mq:5672/%2F", BuildURL(cfg))

	cfg.VHost = "dexcat"
	assert.Equal(t, "amqp://guest:p%40ss@mq:5672/dexcat", BuildURL(cfg))
}

func TestEventRoutingKey(t *testing.T) {
	assert.Equal(t, "catalog.event.ready", EventRoutingKey(&CatalogEvent{Status: string(domain.CatalogStatusReady)}))
	assert.Equal(t, "catalog.event.failed", EventRoutingKey(&CatalogEvent{Status: string(domain.CatalogStatusFailed)}))
}

type fakeDeclarer struct {
	exchanges []string
	queues    []string
	bindings  []string
	bindErr   error
}

func (d *fakeDeclarer) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	d.exchanges = append(d.exchanges, name+"/"+kind)
	return nil
}

func (d *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	d.queues = append(d.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (d *fakeDeclarer) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	d.bindings = append(d.bindings, exchange+":"+key+"->"+name)
	return d.bindErr
}

func TestTopology_Declare(t *testing.T) {
	topo := Topology{Exchange: "dexcat.catalog", RequestQueue: "req", EventQueue: "ev"}

	d := &fakeDeclarer{}
	require.NoError(t, topo.declare(d))
	assert.Equal(t, []string{"dexcat.catalog/topic"}, d.exchanges)
	assert.Equal(t, []string{"req", "ev"}, d.queues)
	assert.Equal(t, []string{
		"dexcat.catalog:catalog.request->req",
		"dexcat.catalog:catalog.event.#->ev",
	}, d.bindings)

	// 只发布事件的进程可以不声明请求队列
	d = &fakeDeclarer{}
	require.NoError(t, Topology{Exchange: "x", EventQueue: "ev"}.declare(d))
	assert.Equal(t, []string{"ev"}, d.queues)

	d = &fakeDeclarer{bindErr: errors.New("access refused")}
	err := topo.declare(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind req")
}

// fakeAck 记录 amqp.Delivery 的确认
type fakeAck struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *fakeAck) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}

// fakeSource 每次 Deliveries 返回下一个通道
type fakeSource struct {
	mu      sync.Mutex
	chans   []chan amqp.Delivery
	next    int
	redials int
}

func (s *fakeSource) Deliveries() (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.chans) {
		return nil, errors.New("no channel")
	}
	ch := s.chans[s.next]
	s.next++
	return ch, nil
}

func (s *fakeSource) Redial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redials++
	return nil
}

func TestConsumer_ResumesAfterChannelClose(t *testing.T) {
	first := make(chan amqp.Delivery, 1)
	second := make(chan amqp.Delivery, 1)
	src := &fakeSource{chans: []chan amqp.Delivery{first, second}}
	ack := &fakeAck{}

	var mu sync.Mutex
	var paths []string
	c := NewConsumer(src, func(ctx context.Context, msg *CatalogRequest) error {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, msg.Path)
		return nil
	}, 2, testLogger())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())

	first <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"path":"/in/a.apk"}`)}
	close(first)
	second <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"path":"/in/b.apk"}`)}

	assert.Eventually(t, func() bool {
		acked, _ := ack.counts()
		return acked == 2
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	assert.False(t, c.IsRunning())
	assert.Equal(t, 0, c.ActiveWorkers())
	assert.Equal(t, int32(2), c.sessions.Load())
	assert.Equal(t, 1, src.redials)
	assert.ElementsMatch(t, []string{"/in/a.apk", "/in/b.apk"}, paths)

	// 已停止时再次 Stop 不阻塞
	c.Stop()
}

func TestConsumer_StartFails(t *testing.T) {
	c := NewConsumer(&fakeSource{}, func(ctx context.Context, msg *CatalogRequest) error { return nil }, 1, testLogger())
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.IsRunning())
}
