package license

import (
	"context"
	"log/slog"
)

// logAction logs a manager action with the standard component attributes.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := []slog.Attr{
		slog.String("component", "activation_manager"),
		slog.String("action", action),
	}
	all = append(all, attrs...)
	slog.Default().LogAttrs(ctx, level, result, all...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// maskCode masks an activation code string so logs never leak a working
// code.
func maskCode(raw string) string {
	if len(raw) <= 8 {
		return "****"
	}
	return raw[:4] + "****" + raw[len(raw)-4:]
}
