// Package consumers holds the event consumers a subscriber can be configured with
package consumers

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"hubsub/models"
)

// Stdout writes every delivered event as one JSON line
type Stdout struct {
	mu  sync.Mutex
	out io.Writer
	enc *json.Encoder
}

// NewStdout writes to w, or os.Stdout when w is nil
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{out: w, enc: json.NewEncoder(w)}
}

func (s *Stdout) StartConsumption(ctx context.Context) {}

func (s *Stdout) Consume(ctx context.Context, contentType string, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enc.Encode(models.DeliveredEvent{
		ContentType: contentType,
		Payload:     payload,
		ReceivedAt:  time.Now().UTC(),
	})
}

func (s *Stdout) EndConsumption(ctx context.Context, completedCleanly bool) {}
