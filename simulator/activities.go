package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

var messageTemplates = []string{
	"hey, you around?",
	"did you see that?",
	"running a few minutes late",
	"sounds good to me",
	"can you send me the link?",
	"lol",
	"let's catch up later today",
	"what do you think about this one?",
	"ok, done",
	"thanks!",
}

// simulateMessages sends direct messages at MessageFrequency per user per
// hour. Partner choice is Zipf-skewed so a handful of threads dominate, the
// way real inboxes do.
func (s *Simulator) simulateMessages(ctx context.Context) {
	if s.config.MessageFrequency <= 0 {
		return
	}
	interval := time.Duration(float64(time.Hour) / (s.config.MessageFrequency * float64(s.config.NumUsers)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected := s.connectedUsers()
			if len(connected) == 0 {
				continue
			}
			sender := connected[rand.Intn(len(connected))]
			if len(sender.Partners) == 0 {
				continue
			}
			partner := sender.Partners[s.getZipfNumber(len(sender.Partners))]

			content := messageTemplates[rand.Intn(len(messageTemplates))]
			if rand.Float64() < 0.2 {
				content = fmt.Sprintf("%s (%d)", content, rand.Intn(1000))
			}

			start := time.Now()
			_, err := sender.API.SendMessage(ctx, partner.Profile.ID, content)
			s.recordRequestMetrics(start, err)
			if err != nil {
				slog.Debug("simulated send failed", "error", err)
				continue
			}

			s.stats.mu.Lock()
			s.stats.TotalMessages++
			s.stats.mu.Unlock()
		}
	}
}

// simulateSeenMarks models users opening threads: load the history with a
// Zipf-chosen partner and mark their messages seen.
func (s *Simulator) simulateSeenMarks(ctx context.Context) {
	if s.config.SeenFrequency <= 0 {
		return
	}
	interval := time.Duration(float64(time.Hour) / (s.config.SeenFrequency * float64(s.config.NumUsers)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected := s.connectedUsers()
			if len(connected) == 0 {
				continue
			}
			viewer := connected[rand.Intn(len(connected))]
			if len(viewer.Partners) == 0 {
				continue
			}
			partner := viewer.Partners[s.getZipfNumber(len(viewer.Partners))]

			start := time.Now()
			_, err := viewer.API.GetConversation(ctx, partner.Profile.ID, 50)
			s.recordRequestMetrics(start, err)
			if err != nil {
				continue
			}

			start = time.Now()
			_, err = viewer.API.MarkSeen(ctx, partner.Profile.ID)
			s.recordRequestMetrics(start, err)
			if err != nil {
				continue
			}

			s.stats.mu.Lock()
			s.stats.TotalSeenMarks++
			s.stats.mu.Unlock()
		}
	}
}
