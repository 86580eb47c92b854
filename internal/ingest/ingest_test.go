package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jarcoal/httpmock"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"

	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/visitor"
)

const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

func quiet() *pterm.Logger {
	return pterm.DefaultLogger.WithWriter(io.Discard)
}

func newModel() *visitor.Model {
	return visitor.NewModel(visitor.Options{CombineNets: true, Logger: quiet()})
}

func TestFSSource(t *testing.T) {
	src := FSSource{FS: fstest.MapFS{"a.json": {Data: []byte(`{}`)}}}

	rc, err := src.Open(context.Background(), "a.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "{}", string(data))
	require.NoError(t, rc.Close())

	_, err = src.Open(context.Background(), "missing.json")
	require.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Open(ctx, "a.json")
	require.True(t, errors.Is(err, context.Canceled))
}

func TestHTTPSource(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://wiki.example.org/botmon/logs/2025-01-01.srv.txt",
		httpmock.NewStringResponder(200, "line\n"))
	httpmock.RegisterResponder(http.MethodGet, "https://wiki.example.org/botmon/logs/2025-01-01.log.txt",
		httpmock.NewStringResponder(404, "not found"))
	httpmock.RegisterResponder(http.MethodGet, "https://wiki.example.org/botmon/logs/2025-01-01.tck.txt",
		httpmock.NewStringResponder(500, "boom"))

	src := HTTPSource{BaseURL: "https://wiki.example.org/botmon/logs"}
	ctx := context.Background()

	rc, err := src.Open(ctx, "2025-01-01.srv.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "line\n", string(data))
	require.NoError(t, rc.Close())

	_, err = src.Open(ctx, "2025-01-01.log.txt")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = src.Open(ctx, "2025-01-01.tck.txt")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "500")

	require.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestFallback(t *testing.T) {
	user := FSSource{FS: fstest.MapFS{"user-config.json": {Data: []byte(`{"user": true}`)}}}
	defaults := FSSource{FS: fstest.MapFS{
		"user-config.json":    {Data: []byte(`{"user": false}`)},
		"default-config.json": {Data: []byte(`{}`)},
	}}
	src := Fallback{user, defaults}

	rc, err := src.Open(context.Background(), "user-config.json")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	require.Equal(t, `{"user": true}`, string(data))

	rc, err = src.Open(context.Background(), "default-config.json")
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = src.Open(context.Background(), "nope.json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSettings(t *testing.T) {
	src := FSSource{FS: fstest.MapFS{
		"user-config.json":    {Data: []byte(`{not json`)},
		"default-config.json": {Data: []byte(`{"threshold": 100}`)},
	}}

	var cfg struct {
		Threshold int `json:"threshold"`
	}
	decode := func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&cfg)
	}

	name, rejected, err := LoadSettings(context.Background(), src, ConfigFiles, decode)
	require.NoError(t, err)
	require.Equal(t, "default-config.json", name)
	require.Equal(t, 100, cfg.Threshold)
	require.Len(t, rejected, 1)
	require.Contains(t, rejected[0].Error(), "user-config.json")

	_, rejected, err = LoadSettings(context.Background(), src, RangeFiles, decode)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, rejected, "missing files are not rejections")
}

func TestPipelineRun_CrossStream(t *testing.T) {
	srv := strings.Join([]string{
		"2025-01-01 10:00:00", "192.0.2.10", "start", "sess-1", "dw", "", firefoxUA, "", "en", "en,de", "DE", "-",
	}, "\t")
	clientLog := strings.Join([]string{
		"2025-01-01 10:00:01", "192.0.2.10", "start", "sess-1", "", "350", "", firefoxUA,
	}, "\t")

	src := FSSource{FS: fstest.MapFS{
		"2025-01-01.srv.txt": {Data: []byte(srv + "\n\n")},
		"2025-01-01.log.txt": {Data: []byte(clientLog + "\nnot-a-date\tx\n")},
	}}

	m := newModel()
	status := NewPipeline(src, m, quiet()).Run(context.Background(), "2025-01-01")

	require.Equal(t, 1, m.Len())
	v := m.Visitors()[0]
	require.True(t, v.SeenByKind(logrecord.KindServer))
	require.True(t, v.SeenByKind(logrecord.KindClient))
	require.Len(t, v.PageViews, 1)
	require.True(t, v.PageViews[0].JSClient)

	// the missing ticker log is reported but does not abort the run
	require.True(t, status.Incomplete)
	require.Len(t, status.Messages, 1)
	require.True(t, strings.HasPrefix(status.Messages[0], "Error while loading the Ticker log file: "))
	require.True(t, strings.HasSuffix(status.Messages[0], "– data may be incomplete."))

	require.Len(t, status.Streams, 3)
	require.Equal(t, 1, status.Streams[0].Records)
	require.Equal(t, 1, status.Streams[0].Skipped)
	require.Equal(t, 1, status.Streams[1].Invalid)
	require.NotEmpty(t, status.Streams[2].Error)
}

func TestPipelineRun_EmptyLogIsDistinct(t *testing.T) {
	src := FSSource{FS: fstest.MapFS{
		"2025-01-01.srv.txt": {Data: []byte{}},
	}}

	status := NewPipeline(src, newModel(), quiet()).Run(context.Background(), "2025-01-01")
	require.Len(t, status.Messages, 3)
	require.Contains(t, status.Messages[0], logrecord.ErrEmptyLog.Error())
	require.Contains(t, status.Messages[1], ErrNotFound.Error())
}

func TestPipelineRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newModel()
	status := NewPipeline(FSSource{FS: fstest.MapFS{}}, m, quiet()).Run(ctx, "2025-01-01")
	require.True(t, status.Incomplete)
	require.Len(t, status.Messages, 1)
	require.Contains(t, status.Messages[0], "cancelled")
	require.Empty(t, status.Streams)
}
