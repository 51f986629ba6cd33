package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsvc/dispatchd/internal/clock"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/store"
)

const seedYAML = `
services:
  - name: Fiber Installation
    category: installation
    sla_hours: 48
    opinions:
      - name: Completed
        approved: true
        final: true
      - name: Customer absent
        exchangeable: true
  - name: Site Inspection
    category: inspection
    opinions:
      - name: Approved
        approved: true
        final: true
      - name: Rejected
        final: true
`

func TestParse(t *testing.T) {
	seed, err := Parse([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Services, 2)

	fiber := seed.Services[0]
	assert.Equal(t, "Fiber Installation", fiber.Name)
	assert.Equal(t, "installation", fiber.Category)
	assert.Equal(t, 48, fiber.SLAHours)
	require.Len(t, fiber.Opinions, 2)
	assert.True(t, fiber.Opinions[0].Approved)
	assert.True(t, fiber.Opinions[1].Exchangeable)
	assert.False(t, fiber.Opinions[1].Final)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing service name", "services:\n  - category: x\n"},
		{"missing category", "services:\n  - name: a\n"},
		{"duplicate service", "services:\n  - name: a\n    category: x\n  - name: a\n    category: y\n"},
		{"negative sla", "services:\n  - name: a\n    category: x\n    sla_hours: -1\n"},
		{"nameless opinion", "services:\n  - name: a\n    category: x\n    opinions:\n      - approved: true\n"},
		{"duplicate opinion", "services:\n  - name: a\n    category: x\n    opinions:\n      - name: b\n      - name: b\n"},
		{"not yaml", ":{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	clk := clock.NewFixed(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	st, err := store.New(filepath.Join(t.TempDir(), "dispatchd.db"), clk)
	require.NoError(t, err)
	defer st.Close()

	seed, err := Parse([]byte(seedYAML))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, Seed(ctx, st, seed, log))

	first, err := st.ServiceByName(ctx, "Fiber Installation")
	require.NoError(t, err)

	// A second run with a changed SLA updates in place.
	seed.Services[0].SLAHours = 24
	require.NoError(t, Seed(ctx, st, seed, log))

	second, err := st.ServiceByName(ctx, "Fiber Installation")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 24, second.SLAHours)

	services, err := st.Services(ctx)
	require.NoError(t, err)
	assert.Len(t, services, 2)

	opinions, err := st.OpinionsForService(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, opinions, 2)
}
