package bridge

import (
	"go.uber.org/zap"

	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/modhost"
)

// relay moves module messages to the external stream. Ready is announced by
// the controller once input is attached, so the raw Ready is not relayed.
// Error messages seen while loading belong to the load protocol and are
// consumed there; only errors from a ready module reach the host. Log text
// goes to the logger, throttled.
func (c *Controller) relay(sub *message.Stream, host *modhost.Host, logger *zap.Logger) {
	defer close(c.relayDone)

	suppressed := 0
	for m := range sub.C() {
		switch m.Kind {
		case message.KindResult:
			c.out.Push(m)
		case message.KindError:
			if host.State() == modhost.Ready {
				c.out.Push(m)
				continue
			}
			logger.Debug("module error during load", zap.String("reason", m.Reason), zap.Uint64("epoch", m.Epoch))
		case message.KindLog:
			if !c.limiter.Allow() {
				suppressed++
				continue
			}
			fields := []zap.Field{zap.String("text", m.Text), zap.Uint64("epoch", m.Epoch)}
			if suppressed > 0 {
				fields = append(fields, zap.Int("suppressed", suppressed))
				suppressed = 0
			}
			logger.Info("guest log", fields...)
		case message.KindReady:
			logger.Debug("module posted ready", zap.Uint64("epoch", m.Epoch))
		}
	}
}
