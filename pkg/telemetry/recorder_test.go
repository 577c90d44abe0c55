package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfuse/docfuse/pkg/types"
)

func TestRecorderFlushWritesParquet(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, 100, nil)
	require.NoError(t, err)

	r.RecordIngest(IngestRecord{DocumentID: "d1", Units: 4, Entities: 7, Relations: 2, Success: true})
	r.RecordQuery(QueryRecord{Query: "what is docfuse", EvidenceCount: 3, DegradedStages: "lexical"})
	r.Flush()

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	for _, f := range files {
		path := filepath.Join(dir, f.Name())
		if filepath.Base(path)[:6] == "ingest" {
			rows, err := parquet.ReadFile[IngestRecord](path)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "d1", rows[0].DocumentID)
			assert.True(t, rows[0].Success)
		} else {
			rows, err := parquet.ReadFile[QueryRecord](path)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, 3, rows[0].EvidenceCount)
		}
	}
}

func TestRecorderAutoFlushAtBatchSize(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, 2, nil)
	require.NoError(t, err)

	r.RecordIngest(IngestRecord{DocumentID: "d1"})
	files, _ := os.ReadDir(dir)
	assert.Empty(t, files)

	r.RecordIngest(IngestRecord{DocumentID: "d2"})
	files, _ = os.ReadDir(dir)
	assert.Len(t, files, 1)
}

func TestJoinStages(t *testing.T) {
	assert.Equal(t, "lexical,vector",
		JoinStages([]types.EvidenceSource{types.SourceLexical, types.SourceVector}))
	assert.Equal(t, "", JoinStages[types.EvidenceSource](nil))
}
