package alerts

import (
	"encoding/json"
	"time"
)

// Alert is one live alert instance. It belongs to exactly one Class (Klass)
// and is unique per (Klass, Key).
type Alert struct {
	ID             string         `json:"id"`
	Source         string         `json:"source"`
	Klass          string         `json:"klass"`
	Args           map[string]any `json:"args"`
	Key            string         `json:"key"`
	Level          Level          `json:"level"`
	Datetime       time.Time      `json:"datetime"`
	LastOccurrence time.Time      `json:"last_occurrence"`
	Dismissed      bool           `json:"dismissed"`
}

// New returns an alert of class c for a periodic source. The key is derived
// from args unless the source sets Key itself.
func New(c *Class, args map[string]any) *Alert {
	return &Alert{
		Klass: c.Name,
		Args:  cloneArgs(args),
		Level: c.Level,
	}
}

// Class returns the registered class of a, or nil if it is unknown.
func (a *Alert) Class() *Class {
	c, _ := Lookup(a.Klass)
	return c
}

// Title returns the class title.
func (a *Alert) Title() string {
	if c := a.Class(); c != nil {
		return c.Title
	}
	return a.Klass
}

// Formatted renders the class text with the alert args.
func (a *Alert) Formatted() string {
	if c := a.Class(); c != nil {
		return c.Format(a.Args)
	}
	return ""
}

// Clone returns a deep-enough copy of a: the args map is copied, values are shared.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.Args = cloneArgs(a.Args)
	return &cp
}

// argsKey is the default key for source alerts: the args as JSON.
// encoding/json writes map keys sorted, so equal args give equal keys.
func argsKey(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func identity(klass, key string) string {
	return klass + "\x00" + key
}
