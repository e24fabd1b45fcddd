package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/korailwatch/agent/internal/agent"
)

// Three short beeps, spaced enough to register as distinct.
const (
	beepCount   = 3
	beepSpacing = 150 * time.Millisecond
)

// Sound plays an audible alert through the system beeper.
type Sound struct{}

// NewSound creates the sound channel.
func NewSound() *Sound { return &Sound{} }

func (s *Sound) Name() string { return "sound" }

func (s *Sound) Send(ctx context.Context, n agent.Notification) error {
	for i := 0; i < beepCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			return fmt.Errorf("alert sound: %w", err)
		}
		if i < beepCount-1 {
			time.Sleep(beepSpacing)
		}
	}
	return nil
}
