// Package notify provides the notification channel implementations: desktop
// pop-ups and alert sounds via the system notification facilities, and an
// HTTP webhook with optional signed authentication.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/korailwatch/agent/internal/agent"
	"github.com/korailwatch/agent/internal/config"
)

// FromConfig builds the channel set named by notification_methods.
func FromConfig(cfg *config.Config, logger *slog.Logger) ([]agent.Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var channels []agent.Channel
	for _, method := range cfg.NotificationMethods {
		switch method {
		case "desktop":
			channels = append(channels, NewDesktop())
		case "sound":
			channels = append(channels, NewSound())
		case "webhook":
			channels = append(channels, NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, logger))
		default:
			return nil, fmt.Errorf("notify: unknown method %q", method)
		}
	}
	return channels, nil
}
