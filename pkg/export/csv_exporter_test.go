package export

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()
	data := Dataset{
		Headers: []string{"Observation", "Status"},
		Rows: []map[string]string{
			{"Observation": "Chapter 2 citations", "Status": "PENDIENTE"},
			{"Observation": "Figure labels", "Status": "APROBADO"},
		},
	}

	out, err := exporter.Render(data)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Observation", "Status"}, records[0])
	assert.Equal(t, "APROBADO", records[2][1])
}

func TestCSVExporterRenderMissingCell(t *testing.T) {
	exporter := NewCSVExporter()
	data := Dataset{
		Headers: []string{"A", "B"},
		Rows:    []map[string]string{{"A": "only"}},
	}

	out, err := exporter.Render(data)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"only", ""}, records[1])
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	exporter := NewPDFExporter()
	data := Dataset{
		Headers: []string{"Observation", "Status"},
		Rows:    []map[string]string{{"Observation": "Chapter 2 citations", "Status": "PENDIENTE"}},
	}

	out, err := exporter.Render(data, "Review status", "Project: Compiler thesis")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "%PDF"))

	_, err = exporter.Render(Dataset{}, "t", "")
	assert.Error(t, err)
}
