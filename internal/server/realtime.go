package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/dispatch"
)

const realtimeBufferSize = 16

// RealtimeMessage addresses a push notification. A zero UserID reaches every
// connected account.
type RealtimeMessage struct {
	UserID       int64
	Notification dispatch.Notification
}

// RealtimeDispatcher fans push notifications out to the open sockets.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan dispatch.Notification
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers a stream for userID until ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID int64) (<-chan dispatch.Notification, func()) {
	if userID == 0 {
		ch := make(chan dispatch.Notification)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan dispatch.Notification, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message without blocking; full streams drop it.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Notification.ActionType == "" {
		return
	}
	d.mu.RLock()
	var copies []*realtimeSubscriber
	if message.UserID == 0 {
		for _, subscribers := range d.subscribers {
			for _, subscriber := range subscribers {
				copies = append(copies, subscriber)
			}
		}
	} else {
		for _, subscriber := range d.subscribers[message.UserID] {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message.Notification:
		default:
		}
	}
}

// Broadcast delivers notification to every connected account.
func (d *RealtimeDispatcher) Broadcast(notification dispatch.Notification) {
	d.Publish(RealtimeMessage{Notification: notification})
}

// Subscribers counts the open streams.
func (d *RealtimeDispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, subscribers := range d.subscribers {
		total += len(subscribers)
	}
	return total
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID int64, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID int64, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
