package video

import (
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/dashboard/pkg/config"
	customlog "github.com/open-teleop/dashboard/pkg/log"
)

// Signal states shown on a feed.
const (
	SignalLive     = "LIVE"
	SignalNoSignal = "NO SIGNAL"
)

// Feed describes one camera stream for the dashboard.
type Feed struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Src         string `json:"src"`
	Placeholder string `json:"placeholder"`
	Signal      string `json:"signal"`
}

// VideoService resolves the rover's camera feeds. Streams are never decoded
// or proxied; clients are pointed at the rover directly.
type VideoService struct {
	mu     sync.RWMutex
	feeds  []config.FeedConfig
	device config.DeviceConfig
	online func() bool
	logger customlog.Logger
}

// NewVideoService creates a video service. online reports whether the rover
// currently answers telemetry; nil means always online.
func NewVideoService(cfg *config.Config, online func() bool, logger customlog.Logger) *VideoService {
	if online == nil {
		online = func() bool { return true }
	}
	return &VideoService{
		feeds:  cfg.Video.Feeds,
		device: cfg.Device,
		online: online,
		logger: logger.WithField("component", "video"),
	}
}

// Reconfigure replaces feeds and device settings.
func (s *VideoService) Reconfigure(cfg *config.Config) {
	s.mu.Lock()
	s.feeds = cfg.Video.Feeds
	s.device = cfg.Device
	s.mu.Unlock()
}

// Feeds returns every feed, in config order.
func (s *VideoService) Feeds() []Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := !s.device.Mock && s.online()
	feeds := make([]Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		feeds = append(feeds, s.resolve(f, live))
	}
	return feeds
}

// GetFeed returns a single feed by id.
func (s *VideoService) GetFeed(id string) (Feed, bool) {
	for _, f := range s.Feeds() {
		if f.ID == id {
			return f, true
		}
	}
	return Feed{}, false
}

// GetFeedByType returns the first feed of the given type.
func (s *VideoService) GetFeedByType(feedType string) (Feed, bool) {
	for _, f := range s.Feeds() {
		if f.Type == feedType {
			return f, true
		}
	}
	return Feed{}, false
}

func (s *VideoService) resolve(f config.FeedConfig, live bool) Feed {
	feed := Feed{
		ID:          f.ID,
		Title:       f.Title,
		Type:        f.Type,
		Placeholder: f.Placeholder,
	}
	if live {
		feed.Src = s.device.URL(f.Path)
		feed.Signal = SignalLive
	} else {
		feed.Src = f.Placeholder
		feed.Signal = SignalNoSignal
	}
	return feed
}

// FeedsHandler lists the feeds.
func (s *VideoService) FeedsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"feeds": s.Feeds(),
	})
}

// StreamHandler redirects to the stream of the first feed of feedType, or
// to its placeholder when the rover is not reachable.
func (s *VideoService) StreamHandler(feedType string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		feed, ok := s.GetFeedByType(feedType)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no "+feedType+" feed configured")
		}
		c.Set("X-Feed-Signal", feed.Signal)
		s.logger.Debugf("Redirecting %s feed to %s", feedType, feed.Src)
		return c.Redirect(feed.Src, fiber.StatusFound)
	}
}
