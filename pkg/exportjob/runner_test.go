package exportjob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/export"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
)

type fakeRoster struct{}

func (fakeRoster) IsSpecial(int, string) bool { return false }

func sampleRow(nationalID string) export.Row {
	return export.Row{
		NationalID: nationalID, Counter: "993730001", FirstName: "Sara", LastName: "Ahmadi",
		Gender: 0, Mobile: "09123456789", RegCenter: 1, RegStatus: 1, GroupCode: "G1",
		StudentType: 0, SchoolCode: "123456", MentorID: "9001", MentorName: "Mentor One",
		MentorMobile: "09120000000", AllocationDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		YearCode: "1403",
	}
}

func newTestRunner(t *testing.T, rows []export.Row) (*Runner, *metrics.Registry) {
	t.Helper()
	dir := t.TempDir()
	frozen, err := clock.NewFrozen(time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	reg := metrics.New("exportjob_test")
	store := kv.NewMemory("exportjob_test", frozen)
	ds := &export.MemoryDataSource{Rows: rows}
	pipeline := export.NewPipeline(ds, fakeRoster{}, frozen, reg, dir)
	return NewRunner(store, frozen, reg, pipeline), reg
}

func TestSubmitRunsJobToSuccess(t *testing.T) {
	runner, _ := newTestRunner(t, []export.Row{sampleRow("0011112222")})

	job, err := runner.Submit(context.Background(), export.Filters{Year: 1403}, export.DefaultOptions(), "key-1", "ns1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	final, err := runner.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, final.Status)
	require.NotNil(t, final.Manifest)
	assert.Equal(t, 1, final.Manifest.TotalRows)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.FinishedAt)
}

func TestSubmitDuplicateKeyReturnsSameJob(t *testing.T) {
	runner, _ := newTestRunner(t, []export.Row{sampleRow("0011112222")})

	first, err := runner.Submit(context.Background(), export.Filters{Year: 1403}, export.DefaultOptions(), "key-2", "ns1")
	require.NoError(t, err)

	second, err := runner.Submit(context.Background(), export.Filters{Year: 1403}, export.DefaultOptions(), "key-2", "ns1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = runner.Wait(context.Background(), first.ID)
	require.NoError(t, err)
}

func TestSubmitFailureIsTerminal(t *testing.T) {
	runner, reg := newTestRunner(t, nil)

	job, err := runner.Submit(context.Background(), export.Filters{Year: 1403}, export.DefaultOptions(), "key-3", "ns1")
	require.NoError(t, err)

	final, err := runner.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "EXPORT_EMPTY")

	metricFamilies, err := reg.Prometheus().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "exportjob_test_export_jobs_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetUnknownJobReturnsFalse(t *testing.T) {
	runner, _ := newTestRunner(t, nil)
	_, ok := runner.Get("does-not-exist")
	assert.False(t, ok)
}
