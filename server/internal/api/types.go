package api

import (
	"github.com/nasalert/nasalert/pkg/types"
	"github.com/nasalert/nasalert/server/internal/alerts"
)

// BuildAlert maps a live alert to its JSON representation.
func BuildAlert(a *alerts.Alert) types.Alert {
	out := types.Alert{
		ID:             a.ID,
		UUID:           a.ID,
		Source:         a.Source,
		Klass:          a.Klass,
		Args:           a.Args,
		Key:            a.Key,
		Level:          a.Level.String(),
		Datetime:       a.Datetime,
		LastOccurrence: a.LastOccurrence,
		Dismissed:      a.Dismissed,
		Title:          a.Title(),
		Formatted:      a.Formatted(),
	}
	if out.Args == nil {
		out.Args = map[string]any{}
	}
	if c := a.Class(); c != nil {
		out.OneShot = c.OneShot
		out.Category = string(c.Category)
	}
	return out
}

// BuildAlerts maps a list of alerts, never returning nil.
func BuildAlerts(as []*alerts.Alert) []types.Alert {
	out := make([]types.Alert, 0, len(as))
	for _, a := range as {
		out = append(out, BuildAlert(a))
	}
	return out
}
