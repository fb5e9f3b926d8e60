package detect

import (
	"context"
	"encoding/json"
	"log/slog"
)

// SignalsParam is the request parameter carrying host-computed signals.
const SignalsParam = "signals"

// ParamDetector forwards signals the host placed in the request parameters
// under "signals". Invalid entries are dropped and logged.
type ParamDetector struct {
	logger *slog.Logger
}

// NewParamDetector creates a ParamDetector.
func NewParamDetector(logger *slog.Logger) *ParamDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParamDetector{logger: logger.With("component", "detect.params")}
}

// Detect implements Detector.
func (d *ParamDetector) Detect(ctx context.Context, req Request) []Signal {
	raw, ok := req.Parameters[SignalsParam]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		d.logger.Warn("unreadable signals parameter", "error", err)
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		d.logger.Warn("signals parameter is not a list", "error", err)
		return nil
	}

	out := make([]Signal, 0, len(items))
	for i, item := range items {
		var s Signal
		if err := json.Unmarshal(item, &s); err != nil {
			d.logger.Warn("dropping malformed signal", "index", i, "error", err)
			continue
		}
		if err := s.Validate(); err != nil {
			d.logger.Warn("dropping invalid signal", "index", i, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out
}
