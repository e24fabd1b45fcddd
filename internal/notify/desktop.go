package notify

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"

	"github.com/korailwatch/agent/internal/agent"
)

// Desktop shows a system notification pop-up.
type Desktop struct{}

// NewDesktop creates the desktop channel.
func NewDesktop() *Desktop { return &Desktop{} }

func (d *Desktop) Name() string { return "desktop" }

// Send shows the notification. The underlying call has no context support;
// it returns quickly or not at all, so a cancelled context is only honored
// up front.
func (d *Desktop) Send(ctx context.Context, n agent.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := beeep.Notify(n.Title, n.Body, ""); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}
