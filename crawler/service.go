package crawler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/messaging"
)

// Runner is a source crawler that can execute a full crawl session.
type Runner interface {
	Run(ctx context.Context, startURL string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, startURL string) error

func (f RunnerFunc) Run(ctx context.Context, startURL string) error {
	return f(ctx, startURL)
}

// Service routes crawl requests to the crawler registered for each source.
type Service struct {
	broker *messaging.NatsBroker

	mu      sync.RWMutex
	runners map[string]Runner
}

func NewService(broker *messaging.NatsBroker) *Service {
	return &Service{
		broker:  broker,
		runners: make(map[string]Runner),
	}
}

// Register adds a source crawler. Last registration for a source wins.
func (s *Service) Register(source string, runner Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[source] = runner
	log.Info().Str("source", source).Msg("Registered source crawler")
}

// Trigger publishes a crawl request. The session runs wherever the source's
// crawler is subscribed.
func (s *Service) Trigger(ctx context.Context, req messaging.CrawlRequest) error {
	if _, err := s.runnerFor(req.Source); err != nil {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.broker.Publish(messaging.SubjectCrawlRun, data)
}

// Listen subscribes to crawl requests. Each request runs in its own
// goroutine under ctx; overlapping sessions for one source are rejected by
// the session lock, not here.
func (s *Service) Listen(ctx context.Context) (*nats.Subscription, error) {
	return s.broker.Subscribe(messaging.SubjectCrawlRun, func(msg *nats.Msg) {
		var req messaging.CrawlRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Error().Err(err).Msg("Malformed crawl request")
			return
		}

		runner, err := s.runnerFor(req.Source)
		if err != nil {
			log.Warn().Str("source", req.Source).Msg("Crawl request for unregistered source")
			return
		}

		go func() {
			log.Info().Str("id", req.ID).Str("source", req.Source).Msg("Crawl request accepted")
			if err := runner.Run(ctx, req.StartURL); err != nil {
				log.Error().Err(err).Str("id", req.ID).Str("source", req.Source).Msg("Crawl session ended with error")
			}
		}()
	})
}

// Sources returns the registered source names.
func (s *Service) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.runners)
}

func (s *Service) runnerFor(source string) (Runner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runner, ok := s.runners[source]
	if !ok {
		return nil, common.ErrUnsupportedSource
	}
	return runner, nil
}
