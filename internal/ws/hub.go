package ws

import "sync"

// AllTopics subscribes to every published event.
const AllTopics = "*"

const broadcastBuffer = 256

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans payloads out to subscribers grouped by topic. Subscribers of
// AllTopics receive every payload.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// message couples payload with its topic.
type message struct {
	topic   string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	topic  string
	client Subscriber
}

// NewHub creates a Hub and starts its loop. Call Close to stop it.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		count:     make(chan chan int),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.topic]; !ok {
				h.clients[sub.topic] = make(map[Subscriber]struct{})
			}
			h.clients[sub.topic][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.topic, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.topic, msg.payload)
			if msg.topic != AllTopics {
				h.deliver(AllTopics, msg.payload)
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

func (h *Hub) remove(topic string, client Subscriber) {
	if clients, ok := h.clients[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Register adds a client to a topic. It is a no-op once the hub is closed.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.done:
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for topic subscribers. It never blocks; it reports
// false when the payload was dropped because the queue is full or the hub is
// closed.
func (h *Hub) Broadcast(topic string, payload []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
		return true
	default:
		return false
	}
}

// Subscribers returns the number of registered clients.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the loop and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.stopped
}
