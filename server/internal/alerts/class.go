package alerts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/cockroachdb/errors"
)

// Class describes one kind of alert. Classes are registered once at init and
// never modified afterwards; Create and Delete hold no state and need no locking.
type Class struct {
	// Name uniquely identifies the class, e.g. "VolumeStatus".
	Name     string
	Category Category
	Level    Level
	Title    string

	// Text is a text/template body rendered against the alert args,
	// e.g. `Pool {{.volume}} state is {{.state}}`.
	Text string

	// DeletedAutomatically reports whether alerts of this class go away on
	// their own once the underlying condition clears. One-shot classes that
	// set it to false are only removed by Delete or by dismissal.
	DeletedAutomatically bool

	// OneShot marks classes whose alerts are created and deleted explicitly.
	OneShot bool

	// KeyArg names the argument one-shot alerts are keyed by.
	KeyArg string

	tmpl *template.Template
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Class)
)

// MustRegister adds c to the process-wide registry. It panics on a duplicate
// name or an unparsable text template.
func MustRegister(c *Class) *Class {
	if err := register(c); err != nil {
		panic(err)
	}
	return c
}

func register(c *Class) error {
	if c.Name == "" {
		return errors.New("alerts: class without name")
	}
	if c.OneShot && c.KeyArg == "" {
		return errors.Newf("alerts: one-shot class %s needs a key argument", c.Name)
	}
	t, err := template.New(c.Name).Option("missingkey=default").Parse(c.Text)
	if err != nil {
		return errors.Wrapf(err, "alerts: class %s text", c.Name)
	}
	c.tmpl = t

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[c.Name]; dup {
		return errors.Newf("alerts: class %s registered twice", c.Name)
	}
	registry[c.Name] = c
	return nil
}

// Lookup returns the registered class with the given name.
func Lookup(name string) (*Class, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

// Classes returns all registered classes sorted by name.
func Classes() []*Class {
	registryMu.RLock()
	out := make([]*Class, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	registryMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Format renders the class text with args. A template execution error falls
// back to the raw text so a bad arg never hides an alert.
func (c *Class) Format(args map[string]any) string {
	if c.tmpl == nil {
		return c.Text
	}
	var sb strings.Builder
	if err := c.tmpl.Execute(&sb, args); err != nil {
		return c.Text
	}
	return sb.String()
}

// Create builds a new alert of this one-shot class keyed by args[KeyArg].
// It only constructs the value; the Manager assigns id and timestamps and
// de-duplicates by key.
func (c *Class) Create(args map[string]any) (*Alert, error) {
	if !c.OneShot {
		return nil, errors.Mark(errors.Newf("alerts: class %s is not one-shot", c.Name), ErrInvalid)
	}
	v, ok := args[c.KeyArg]
	if !ok || v == nil {
		return nil, errors.Mark(errors.Newf("alerts: %s: missing %q argument", c.Name, c.KeyArg), ErrInvalid)
	}
	return &Alert{
		Source: c.Name,
		Klass:  c.Name,
		Args:   cloneArgs(args),
		Key:    keyString(v),
		Level:  c.Level,
	}, nil
}

// keyString is the string form of a key argument. Floats print without an
// exponent so that 1234567 decoded from JSON keys as "1234567".
func keyString(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case json.Number:
		return n.String()
	}
	return fmt.Sprint(v)
}

// Delete returns a new slice holding every alert except those of this class
// whose key equals the string form of query. The input slice is not modified.
func (c *Class) Delete(alerts []*Alert, query any) []*Alert {
	key := keyString(query)
	out := make([]*Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Klass == c.Name && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	return out
}
