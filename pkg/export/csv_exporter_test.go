package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()

	out, err := exporter.Render(Dataset{
		Headers: []string{"Admission No", "Student", "Status"},
		Rows: []map[string]string{
			{"Admission No": "ADM-001", "Student": "Jane Student", "Status": "present"},
			{"Admission No": "ADM-002", "Student": "John Student", "Status": "absent"},
		},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Admission No,Student,Status", lines[0])
	assert.Equal(t, "ADM-001,Jane Student,present", lines[1])
}

func TestCSVExporterMissingColumnsLeftEmpty(t *testing.T) {
	exporter := NewCSVExporter()

	out, err := exporter.Render(Dataset{
		Headers: []string{"Student", "Status"},
		Rows:    []map[string]string{{"Student": "Jane Student"}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "Jane Student,")
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	require.Error(t, err)
}
