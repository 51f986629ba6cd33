package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
)

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func splitComma(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// dateParam parses a required YYYY-MM-DD query parameter.
func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fault.New(fault.KindInvalidInterval, "missing %q parameter", name)
	}
	date, err := interval.ParseDate(raw)
	if err != nil {
		return time.Time{}, fault.New(fault.KindInvalidInterval, "%v", err)
	}
	return date, nil
}

// windowParams parses the required HH:MM start/end query parameters.
func windowParams(r *http.Request) (interval.Interval, error) {
	q := r.URL.Query()
	win, err := interval.ParseWindow(q.Get("start"), q.Get("end"))
	if err != nil {
		return interval.Interval{}, fault.New(fault.KindInvalidInterval, "%v", err)
	}
	return win, nil
}

// idParam parses a numeric query parameter; zero when absent.
func idParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, fault.New(fault.KindInvalidInterval, "invalid %q parameter: %v", name, err)
	}
	return id, nil
}

// pathID parses a numeric path segment.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := parseID(r.PathValue(name))
	if err != nil {
		return 0, fault.New(fault.KindInvalidInterval, "invalid %s: %v", name, err)
	}
	return id, nil
}
