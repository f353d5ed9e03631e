package commands

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/log"
)

func TestExportCSV(t *testing.T) {
	path := writeLog(t, "session.mlog", sampleEvents())
	out := filepath.Join(t.TempDir(), "events.csv")

	require.NoError(t, RunExport(path, "csv", out, log.Filter{}))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 7)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"response_read", "0", "3", "10", "1234", ""}, rows[3][6:])
	assert.Equal(t, "no_response", rows[5][11])
	assert.Equal(t, "CONNECTION: DISCONNECTED -> CONNECTED", rows[1][11])
}

func TestExportJSONLFiltered(t *testing.T) {
	path := writeLog(t, "session.mlog", sampleEvents())
	out := filepath.Join(t.TempDir(), "events.jsonl")

	filter, err := FilterFlags{Message: "request_read", Bus: -1}.Build()
	require.NoError(t, err)
	require.NoError(t, RunExport(path, "jsonl", out, filter))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev log.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		require.NotNil(t, ev.Message)
		assert.Equal(t, "request_read", ev.Message.Name)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestExportUnknownFormat(t *testing.T) {
	err := RunExport("unused.mlog", "xml", "", log.Filter{})
	assert.ErrorContains(t, err, "unknown format")
}
