package metadata

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

func TestPickTrainType(t *testing.T) {
	t.Parallel()
	runs := []runRecord{
		{Date: "2025-03-02 07:00", EMUNo: "CR400AF2001"},
		{Date: "2025-03-01 07:00", EMUNo: "CRH380B3650"},
	}
	tests := []struct {
		name string
		runs []runRecord
		day  string
		want string
	}{
		{name: "matching day", runs: runs, day: "2025-03-01", want: "CRH380B"},
		{name: "fallback first", runs: runs, day: "2025-04-01", want: "CR400AF"},
		{name: "empty", runs: nil, day: "2025-03-01", want: ""},
		{name: "short emu", runs: []runRecord{{Date: "2025-03-01", EMUNo: "1234"}}, day: "2025-03-01", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickTrainType(tt.runs, tt.day))
		})
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/train/G1234":
			_, _ = io.WriteString(w, `[{"date":"2025-03-01 08:00","emu_no":"CR400BF5033"}]`)
		case "/train/G500":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Location: time.UTC}, logx.Nop())
	dep := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	v, err := c.Fetch(ctx, trips.Subject{Number: "G1234", DepartureAt: dep})
	require.NoError(t, err)
	assert.Equal(t, "CR400BF", v)

	v, err = c.Fetch(ctx, trips.Subject{Number: "D9", DepartureAt: dep})
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = c.Fetch(ctx, trips.Subject{Number: "G500", DepartureAt: dep})
	assert.Error(t, err)

	_, err = c.Fetch(ctx, trips.Subject{DepartureAt: dep})
	assert.Error(t, err)
}
