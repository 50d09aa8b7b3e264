package alerts

import "time"

// SetClock replaces the manager clock in tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetClock replaces the dispatcher clock in tests.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// SetMailClock replaces the mail Date header clock in tests.
func (m *Mail) SetMailClock(now func() time.Time) { m.now = now }
