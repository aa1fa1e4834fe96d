package server

import (
	"context"
	"sync"
	"time"

	"hubsub/models"

	log "github.com/sirupsen/logrus"
)

const clientBuffer = 64

// Broadcaster is a consumer that hands every delivered event to the
// server-sent-event clients of the status server
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.DeliveredEvent
}

// Constructor
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.DeliveredEvent),
	}
}

func (b *Broadcaster) StartConsumption(ctx context.Context) {}

// Consume never fails, a slow client only misses events
func (b *Broadcaster) Consume(ctx context.Context, contentType string, payload string) error {
	event := models.DeliveredEvent{
		ContentType: contentType,
		Payload:     payload,
		ReceivedAt:  time.Now().UTC(),
	}

	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping event for client: %v", id)
		}
	}
	return nil
}

func (b *Broadcaster) EndConsumption(ctx context.Context, completedCleanly bool) {}

// AddClient registers a client channel under key
func (b *Broadcaster) AddClient(key string) chan models.DeliveredEvent {
	b.Lock()
	defer b.Unlock()

	client := make(chan models.DeliveredEvent, clientBuffer)
	b.clients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
	return client
}

// RemoveClient closes and forgets the client channel
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

// Clients returns the number of connected clients
func (b *Broadcaster) Clients() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
}
