package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marketspine/marketspine/internal/config"
	"github.com/marketspine/marketspine/internal/event"
	"github.com/marketspine/marketspine/internal/feed"
	"github.com/marketspine/marketspine/internal/feed/kafkafeed"
	"github.com/marketspine/marketspine/internal/feed/mock"
)

// feedManager starts and stops the named feed.Feed instances the
// control glue exposes over /feeds, implementing
// ctrlglue.FeedController. It also owns the live config.Config used
// to build new feeds, implementing ctrlglue.ConfigReloader so
// POST /config/reload can pick up edits to the feed section (default
// symbols, Kafka brokers/topic) without restarting the process.
type feedManager struct {
	configPath string
	out        chan<- event.RawEvent
	logger     *slog.Logger

	mu     sync.Mutex
	cfg    config.Config
	feeds  map[string]feed.Feed
	cancel map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func newFeedManager(cfg config.Config, configPath string, out chan<- event.RawEvent, logger *slog.Logger) *feedManager {
	return &feedManager{
		configPath: configPath,
		cfg:        cfg,
		out:        out,
		logger:     logger,
		feeds:      make(map[string]feed.Feed),
		cancel:     make(map[string]context.CancelFunc),
	}
}

// ReloadConfig re-reads configPath and swaps the config new feeds are
// built from. Feeds already running keep their existing settings
// until restarted; this only affects subsequent StartFeed calls.
func (m *feedManager) ReloadConfig() (config.Config, error) {
	cfg, err := config.Load(m.configPath)
	if err != nil {
		return config.Config{}, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

func (m *feedManager) build(name string) (feed.Feed, error) {
	switch name {
	case "mock":
		return mock.New(m.cfg.Feeds.DefaultSymbols, m.logger), nil
	case "kafka":
		return kafkafeed.New(kafkafeed.Config{
			Brokers: m.cfg.Feeds.KafkaBrokers,
			Topic:   m.cfg.Feeds.KafkaTopic,
		}, m.logger), nil
	default:
		return nil, fmt.Errorf("feedmanager: unknown feed %q", name)
	}
}

// StartFeed builds (if needed) and runs the named feed in its own
// goroutine. Starting an already-running feed is an error.
func (m *feedManager) StartFeed(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.cancel[name]; running {
		return fmt.Errorf("feedmanager: %q already running", name)
	}
	f, err := m.build(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.feeds[name] = f
	m.cancel[name] = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := f.Run(ctx, m.out); err != nil && ctx.Err() == nil {
			m.logger.Error("feed exited with error", "feed", name, "error", err)
		}
	}()
	return nil
}

// StopFeed cancels and removes the named feed. Stopping a feed that
// isn't running is a no-op.
func (m *feedManager) StopFeed(name string) error {
	m.mu.Lock()
	cancel, ok := m.cancel[name]
	f := m.feeds[name]
	delete(m.cancel, name)
	delete(m.feeds, name)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if f != nil {
		f.Stop()
	}
	cancel()
	return nil
}

// FeedStatus reports which named feeds are currently running.
func (m *feedManager) FeedStatus() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := map[string]bool{"mock": false, "kafka": false}
	for name := range m.cancel {
		status[name] = true
	}
	return status
}

// StopAll cancels every running feed and waits for their goroutines
// to exit.
func (m *feedManager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.cancel))
	for name := range m.cancel {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		_ = m.StopFeed(name)
	}
	m.wg.Wait()
}
