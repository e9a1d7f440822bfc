package server

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/compintel-monitor/internal/clock/system"
	"github.com/JakeFAU/compintel-monitor/internal/config"
	"github.com/JakeFAU/compintel-monitor/internal/llm"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/pipeline"
	memoryStorage "github.com/JakeFAU/compintel-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/compintel-monitor/internal/storage/postgres"
)

type fakeLLM struct{ keyErr error }

func (f fakeLLM) Complete(context.Context, llm.Request) (string, error) { return "{}", nil }
func (f fakeLLM) ValidateKey(context.Context) error                     { return f.keyErr }
func (f fakeLLM) Name() string                                          { return "fake" }

func newTestApp(t *testing.T, client llm.Client) (*App, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := pgstore.New(mock)
	require.NoError(t, err)
	cfg := &config.Config{
		LLM:     config.LLMConfig{Provider: "groq", Model: "llama"},
		Queue:   config.QueueConfig{Depth: 2},
		Workers: config.WorkersConfig{Count: 2},
		Server:  config.ServerConfig{Port: 8080},
	}
	return &App{
		cfg:    cfg,
		logger: zaptest.NewLogger(t),
		clock:  system.New(),
		store:  store,
		llm:    client,
		runner: pipeline.New(pipeline.Stages{}, nil),
	}, mock
}

func expectTables(mock pgxmock.PgxPoolIface, missing string) {
	for _, name := range pgstore.Tables {
		mock.ExpectQuery("information_schema.tables").
			WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(name != missing))
	}
}

func TestVerifyReportsMissingTables(t *testing.T) {
	t.Parallel()

	app, mock := newTestApp(t, fakeLLM{})
	expectTables(mock, "intelligence.scraping_runs")

	v, err := app.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, v.Tables, len(pgstore.Tables))
	require.True(t, v.LLM.Valid)
	require.False(t, v.OK())
	for _, tbl := range v.Tables {
		require.Equal(t, tbl.Name != "intelligence.scraping_runs", tbl.Present, tbl.Name)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyLLMStates(t *testing.T) {
	t.Parallel()

	app, mock := newTestApp(t, nil)
	expectTables(mock, "")
	v, err := app.Verify(context.Background())
	require.NoError(t, err)
	require.False(t, v.LLM.Configured)
	require.False(t, v.OK())

	app, mock = newTestApp(t, fakeLLM{keyErr: errors.New("invalid api key")})
	expectTables(mock, "")
	v, err = app.Verify(context.Background())
	require.NoError(t, err)
	require.True(t, v.LLM.Configured)
	require.False(t, v.LLM.Valid)
	require.Equal(t, "invalid api key", v.LLM.Error)

	app, mock = newTestApp(t, fakeLLM{})
	expectTables(mock, "")
	v, err = app.Verify(context.Background())
	require.NoError(t, err)
	require.True(t, v.OK())
}

func TestRunStageSurfacesUnavailableStages(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, nil)
	_, err := app.RunStage(context.Background(), monitor.StageAnalyze, monitor.JobParams{})
	require.ErrorIs(t, err, pipeline.ErrStageUnavailable)
}

func TestNewServiceRegistersSchedules(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, nil)
	app.cfg.Schedule = config.ScheduleConfig{Enabled: true, Pipeline: "0 */6 * * *"}
	svc, err := app.NewService()
	require.NoError(t, err)
	require.Equal(t, 1, svc.scheduler.Len())
	require.Equal(t, ":8080", svc.httpServer.Addr)

	app.cfg.Schedule.Baseline = "not a cron"
	_, err = app.NewService()
	require.Error(t, err)
}

func TestBlobStoreSelection(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, nil)
	store, err := app.blobStore("memory", "", "", nil)
	require.NoError(t, err)
	require.IsType(t, &memoryStorage.BlobStore{}, store)

	_, err = app.blobStore("local", "", "", nil)
	require.Error(t, err)

	dir := t.TempDir()
	_, err = app.blobStore("local", "", dir, nil)
	require.NoError(t, err)
}

func TestNewLLMWithoutKey(t *testing.T) {
	t.Parallel()

	client, err := newLLM(context.Background(), config.LLMConfig{Provider: "groq"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Nil(t, client)

	client, err = newLLM(context.Background(), config.LLMConfig{
		Provider: "anthropic", APIKey: "k", MaxRetries: 2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, nil)
	var order []string
	app.onClose("first", func(context.Context) error { order = append(order, "first"); return nil })
	app.onClose("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("boom")
	})

	err := app.Close(context.Background())
	require.ErrorContains(t, err, "second: boom")
	require.Equal(t, []string{"second", "first"}, order)
	require.NoError(t, app.Close(context.Background()))
}
