// Package metadata looks up the rolling-stock type that will run a train on a
// given day.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

const DefaultBaseURL = "https://api.rail.re"

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Location renders the departure date the service indexes by.
	Location *time.Location
}

// Client queries a rail.re style API: GET <base>/train/<number> returns the
// recent runs of a train, each with its date and EMU set number.
type Client struct {
	base string
	loc  *time.Location
	http *http.Client
	log  logx.Logger
}

type runRecord struct {
	Date  string `json:"date"`
	EMUNo string `json:"emu_no"`
}

func New(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		base: base,
		loc:  loc,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "metadata")),
	}
}

// Fetch returns the train type for the subject's departure day, or "" when
// the service has nothing usable.
func (c *Client) Fetch(ctx context.Context, sub trips.Subject) (string, error) {
	number := strings.TrimSpace(sub.Number)
	if number == "" {
		return "", errors.New("metadata: train number is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/train/"+url.PathEscape(number), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("metadata: lookup %s: http %d", number, resp.StatusCode)
	}

	var runs []runRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&runs); err != nil {
		return "", fmt.Errorf("metadata: decode %s: %w", number, err)
	}
	day := sub.DepartureAt.In(c.loc).Format("2006-01-02")
	v := pickTrainType(runs, day)
	if v == "" {
		c.log.Debug("no train type available", logx.String("train", number), logx.String("day", day))
	}
	return v, nil
}

// pickTrainType prefers the run on day and falls back to the first record.
// The set number carries a four digit serial that is not part of the type.
func pickTrainType(runs []runRecord, day string) string {
	if len(runs) == 0 {
		return ""
	}
	rec := runs[0]
	for _, r := range runs {
		if strings.HasPrefix(r.Date, day) {
			rec = r
			break
		}
	}
	emu := strings.TrimSpace(rec.EMUNo)
	if len(emu) <= 4 {
		return ""
	}
	return emu[:len(emu)-4]
}
