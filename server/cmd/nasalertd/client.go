package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nasalert/nasalert/pkg/types"
	"github.com/nasalert/nasalert/server/internal/api"
)

const envPrefix = "NASALERT"

// addClientFlags registers the connection flags shared by the API client
// commands. Each one can also be set as NASALERT_<FLAG>, e.g. NASALERT_API_KEY.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("url", "http://localhost:6000", "nasalertd base URL")
	f.String("api-key", "", "API key sent with every request")
	f.String("api-key-header", "x-api-key", "header carrying the API key")
	f.Bool("json", false, "print raw JSON instead of a table")
}

// clientSettings merges flags and environment for cmd.
func clientSettings(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	return v, nil
}

type apiClient struct {
	base   string
	key    string
	header string
	http   *http.Client
}

func newClient(cmd *cobra.Command) (*apiClient, *viper.Viper, error) {
	v, err := clientSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	c := &apiClient{
		base:   strings.TrimRight(v.GetString("url"), "/") + api.Prefix,
		key:    v.GetString("api-key"),
		header: v.GetString("api-key-header"),
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	return c, v, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set(c.header, c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return errors.Newf("%s %s: %s (HTTP %d)", method, path, e.Error, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes a header and rows separated by tabs, aligned.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}
