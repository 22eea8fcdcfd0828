package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkcipherai/v1/internal/core/pipeline/testutil"
	"github.com/zkcipherai/v1/internal/core/pipeline/zkproof"
)

func newTestArchive(t *testing.T) *ProofArchive {
	t.Helper()
	archive, err := NewProofArchive(&ArchiveOptions{InMemory: true}, testutil.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

func TestArchive_SaveAndGetArtifact(t *testing.T) {
	archive := newTestArchive(t)

	original := testutil.NewVerifiedTestArtifact("proof_archive_1")
	require.NoError(t, archive.SaveArtifact(original))

	loaded, err := archive.GetArtifact("proof_archive_1")
	require.NoError(t, err)
	assert.Equal(t, original.ProofID, loaded.ProofID)
	assert.Equal(t, original.CircuitID, loaded.CircuitID)
	assert.Equal(t, original.Status, loaded.Status)
	assert.Equal(t, original.Commitment, loaded.Commitment)
	assert.Equal(t, original.PublicSignals, loaded.PublicSignals)
}

func TestArchive_GetArtifactNotFound(t *testing.T) {
	archive := newTestArchive(t)

	_, err := archive.GetArtifact("proof_missing")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestArchive_SaveArtifactValidation(t *testing.T) {
	archive := newTestArchive(t)

	assert.Error(t, archive.SaveArtifact(nil))

	artifact := testutil.NewTestArtifact("")
	assert.Error(t, archive.SaveArtifact(artifact))
}

func TestArchive_OverwriteArtifact(t *testing.T) {
	archive := newTestArchive(t)

	artifact := testutil.NewTestArtifact("proof_overwrite")
	require.NoError(t, archive.SaveArtifact(artifact))

	// 状态终结后重新归档，读取到最新版本
	artifact.MarkVerified(7)
	require.NoError(t, archive.SaveArtifact(artifact))

	loaded, err := archive.GetArtifact("proof_overwrite")
	require.NoError(t, err)
	assert.Equal(t, artifact.Status, loaded.Status)
	assert.Equal(t, int64(7), loaded.VerificationTimeMs)
}

func TestArchive_RecordAndGetBatch(t *testing.T) {
	archive := newTestArchive(t)

	record := &zkproof.BatchRecord{
		BatchID:   "batch_archive_1",
		Size:      3,
		ProofIDs:  []string{"proof_a", "proof_b", "proof_c"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, archive.RecordBatch(record))

	loaded, err := archive.GetBatch("batch_archive_1")
	require.NoError(t, err)
	assert.Equal(t, record.BatchID, loaded.BatchID)
	assert.Equal(t, record.Size, loaded.Size)
	assert.Equal(t, record.ProofIDs, loaded.ProofIDs)

	_, err = archive.GetBatch("batch_missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestArchive_Counts(t *testing.T) {
	archive := newTestArchive(t)

	for i := 0; i < 4; i++ {
		artifact := testutil.NewTestArtifact("proof_count_" + string(rune('a'+i)))
		require.NoError(t, archive.SaveArtifact(artifact))
	}
	require.NoError(t, archive.RecordBatch(&zkproof.BatchRecord{
		BatchID: "batch_count_1", Size: 3, ProofIDs: []string{"x", "y", "z"}, CreatedAt: time.Now(),
	}))

	artifacts, err := archive.CountArtifacts()
	require.NoError(t, err)
	assert.Equal(t, 4, artifacts)

	batches, err := archive.CountBatches()
	require.NoError(t, err)
	assert.Equal(t, 1, batches)

	stats := archive.GetStats()
	assert.Equal(t, 4, stats["artifact_count"])
	assert.Equal(t, 1, stats["batch_count"])
}

func TestArchive_BatchSinkIntegration(t *testing.T) {
	archive := newTestArchive(t)

	options := testutil.NewTestPipelineOptions()
	batcher := zkproof.NewAggregationBatcher(&options.Aggregation, archive, testutil.NewTestLogger())

	var batchID string
	for i := 0; i < 3; i++ {
		artifact := testutil.NewVerifiedTestArtifact("proof_sink_" + string(rune('a'+i)))
		require.NoError(t, batcher.Offer(artifact))
		if artifact.Aggregation.Aggregated {
			batchID = artifact.Aggregation.BatchID
		}
	}
	require.NotEmpty(t, batchID)

	// 批次形成即落地，可按batchID读回完整成员
	record, err := archive.GetBatch(batchID)
	require.NoError(t, err)
	assert.Equal(t, 3, record.Size)
	assert.Len(t, record.ProofIDs, 3)
}
