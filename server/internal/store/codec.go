package store

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

func encode(a *alerts.Alert) ([]byte, error) {
	if a.ID == "" {
		return nil, errors.New("store: alert without id")
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrapf(err, "store: encode alert %s", a.ID)
	}
	return b, nil
}

func decode(data []byte) (*alerts.Alert, error) {
	var a alerts.Alert
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return nil, errors.Wrap(err, "store: decode alert")
	}
	return &a, nil
}

func sortByID(as []*alerts.Alert) {
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
}
