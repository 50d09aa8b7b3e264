package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

// zpoolStateMetric is the node_exporter ZFS collector gauge. Exactly one
// state label per pool carries the value 1.
const zpoolStateMetric = "node_zfs_zpool_state"

const defaultScrapeTimeout = 10 * time.Second

// Pool is the health of one storage pool.
type Pool struct {
	Name   string
	State  string
	Status string
}

// PoolReader lists pools and their state.
type PoolReader interface {
	Pools(ctx context.Context) ([]Pool, error)
}

// Exec runs a command and returns its standard output.
type Exec func(ctx context.Context, name string, args ...string) ([]byte, error)

// VolumeStatus raises an alert for every pool that is not ONLINE.
type VolumeStatus struct {
	reader   PoolReader
	interval time.Duration
}

// NewVolumeStatus returns the pool health source.
func NewVolumeStatus(reader PoolReader, interval time.Duration) *VolumeStatus {
	return &VolumeStatus{reader: reader, interval: interval}
}

func (v *VolumeStatus) Name() string { return alerts.VolumeStatus.Name }

func (v *VolumeStatus) Interval() time.Duration { return v.interval }

func (v *VolumeStatus) Check(ctx context.Context) ([]*alerts.Alert, error) {
	pools, err := v.reader.Pools(ctx)
	if err != nil {
		return nil, err
	}
	var out []*alerts.Alert
	for _, p := range pools {
		if p.State == "ONLINE" {
			continue
		}
		status := p.Status
		if status == "" {
			status = stateStatus(p.State)
		}
		a := alerts.New(alerts.VolumeStatus, map[string]any{
			"volume": p.Name,
			"state":  p.State,
			"status": status,
		})
		a.Key = p.Name
		out = append(out, a)
	}
	return out, nil
}

// stateStatus is the zpool status explanation for a pool state.
func stateStatus(state string) string {
	switch state {
	case "DEGRADED":
		return "One or more devices are faulted or offline. Sufficient replicas exist for the pool to continue functioning in a degraded state."
	case "FAULTED":
		return "One or more devices are faulted and there are insufficient replicas to continue functioning."
	case "UNAVAIL":
		return "One or more devices could not be opened."
	case "OFFLINE":
		return "The pool has been taken offline."
	case "REMOVED":
		return "A device was physically removed while the system was running."
	case "SUSPENDED":
		return "Pool I/O is suspended because of device failures."
	default:
		return "The pool reported state " + state + "."
	}
}

// MetricsPools reads pool states from a node_exporter metrics endpoint.
type MetricsPools struct {
	url    string
	client *http.Client
}

// NewMetricsPools returns a reader scraping url.
func NewMetricsPools(url string, client *http.Client) *MetricsPools {
	if client == nil {
		client = &http.Client{Timeout: defaultScrapeTimeout}
	}
	return &MetricsPools{url: url, client: client}
}

func (m *MetricsPools) Pools(ctx context.Context) ([]Pool, error) {
	mfs, err := fetchMetrics(ctx, m.client, m.url)
	if err != nil {
		return nil, errors.Wrapf(err, "scrape %s", m.url)
	}
	return poolsFromFamily(mfs[zpoolStateMetric]), nil
}

func poolsFromFamily(mf *dto.MetricFamily) []Pool {
	states := make(map[string]string)
	for _, m := range mf.GetMetric() {
		if metricValue(m) != 1 {
			continue
		}
		var pool, state string
		for _, lp := range m.GetLabel() {
			switch lp.GetName() {
			case "zpool":
				pool = lp.GetValue()
			case "state":
				state = strings.ToUpper(lp.GetValue())
			}
		}
		if pool != "" && state != "" {
			states[pool] = state
		}
	}
	pools := make([]Pool, 0, len(states))
	for name, state := range states {
		pools = append(pools, Pool{Name: name, State: state})
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	}
	return 0
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http get")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition. A partial parse that
// yielded families is still a success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, errors.Wrap(err, "parse prometheus text")
	}
	return mfs, nil
}

// CommandPools reads pool states from `zpool list`.
type CommandPools struct {
	exec Exec
}

// NewCommandPools returns a reader running the zpool binary.
func NewCommandPools() *CommandPools {
	return &CommandPools{exec: runCommand}
}

// WithExec replaces the command runner, mainly for tests.
func (c *CommandPools) WithExec(e Exec) *CommandPools {
	c.exec = e
	return c
}

func (c *CommandPools) Pools(ctx context.Context) ([]Pool, error) {
	out, err := c.exec(ctx, "zpool", "list", "-H", "-o", "name,health")
	if err != nil {
		return nil, errors.Wrap(err, "zpool list")
	}
	var pools []Pool
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) != 2 {
			continue
		}
		pools = append(pools, Pool{Name: f[0], State: strings.ToUpper(f[1])})
	}
	return pools, errors.Wrap(sc.Err(), "read zpool output")
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
