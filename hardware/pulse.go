package hardware

import (
	"context"
	"fmt"
	"time"

	"github.com/gloworm-vision/sysgpio/hardware/gpio"
)

// Pulse drives count high pulses of the given width onto pin, each followed
// by a low period of the same width, as a single batch. The pin must have
// been opened as an output on c.
func Pulse(ctx context.Context, c *gpio.Controller, pin *gpio.Pin, width time.Duration, count int) error {
	if count < 1 {
		return fmt.Errorf("pulse count must be positive, got %d", count)
	}

	for i := 0; i < count; i++ {
		if err := pin.SetValue(ctx, gpio.High); err != nil {
			return fmt.Errorf("can't drive %s high: %w", pin, err)
		}
		if err := c.Sleep(ctx, width); err != nil {
			return fmt.Errorf("can't hold %s high: %w", pin, err)
		}
		if err := pin.SetValue(ctx, gpio.Low); err != nil {
			return fmt.Errorf("can't drive %s low: %w", pin, err)
		}
		if i < count-1 {
			if err := c.Sleep(ctx, width); err != nil {
				return fmt.Errorf("can't hold %s low: %w", pin, err)
			}
		}
	}

	if err := c.Execute(ctx); err != nil {
		return fmt.Errorf("unable to run pulse train on %s: %w", pin, err)
	}

	return nil
}
