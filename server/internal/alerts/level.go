package alerts

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Level is the severity of an alert. Levels are ordered: INFO < WARNING < ERROR < CRITICAL.
type Level int

const (
	LevelInfo Level = iota + 1
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = map[Level]string{
	LevelInfo:     "INFO",
	LevelWarning:  "WARNING",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == want {
			return l, nil
		}
	}
	return 0, errors.Newf("alerts: unknown level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if _, ok := levelNames[l]; !ok {
		return nil, errors.Newf("alerts: invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Category groups alert classes for display.
type Category string

const (
	CategoryCertificates     Category = "CERTIFICATES"
	CategoryDirectoryService Category = "DIRECTORY_SERVICE"
	CategoryHardware         Category = "HARDWARE"
	CategoryNetwork          Category = "NETWORK"
	CategorySharing          Category = "SHARING"
	CategoryStorage          Category = "STORAGE"
	CategorySystem           Category = "SYSTEM"
)

var categoryTitles = map[Category]string{
	CategoryCertificates:     "Certificates",
	CategoryDirectoryService: "Directory Service",
	CategoryHardware:         "Hardware",
	CategoryNetwork:          "Network",
	CategorySharing:          "Sharing",
	CategoryStorage:          "Storage",
	CategorySystem:           "System",
}

// Categories returns every known category in display order.
func Categories() []Category {
	return []Category{
		CategoryCertificates,
		CategoryDirectoryService,
		CategoryHardware,
		CategoryNetwork,
		CategorySharing,
		CategoryStorage,
		CategorySystem,
	}
}

// Title returns the human-readable category name.
func (c Category) Title() string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	return string(c)
}

// Policy controls how often notifications for a class are delivered.
type Policy string

const (
	PolicyImmediately Policy = "IMMEDIATELY"
	PolicyHourly      Policy = "HOURLY"
	PolicyDaily       Policy = "DAILY"
	PolicyNever       Policy = "NEVER"
)

// Policies returns all policies in the order the API lists them.
func Policies() []Policy {
	return []Policy{PolicyImmediately, PolicyHourly, PolicyDaily, PolicyNever}
}

// ParsePolicy validates a policy name (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Policies() {
		if p == known {
			return p, nil
		}
	}
	return "", errors.Newf("alerts: unknown policy %q", s)
}

// Bucket maps t to the delivery window the policy groups it into. A batch for
// the policy is due whenever the bucket changes. IMMEDIATELY uses a unique
// bucket per instant and NEVER a constant one.
func (p Policy) Bucket(t time.Time) string {
	switch p {
	case PolicyHourly:
		return t.UTC().Format("2006-01-02T15")
	case PolicyDaily:
		return t.UTC().Format("2006-01-02")
	case PolicyNever:
		return ""
	default:
		return t.UTC().Format(time.RFC3339Nano)
	}
}
