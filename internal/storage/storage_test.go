package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_Validate(t *testing.T) {
	now := time.Now()
	reason := "boom"
	checksum := "abc"
	bogus := Status("paused")
	tooFar := 1.5

	incomplete := Completed("/data/x", 1, "abc", now)
	incomplete.Checksum = nil

	completedWithError := Completed("/data/x", 1, "abc", now)
	completedWithError.ErrorMessage = &reason

	failedWithChecksum := Failed("boom")
	failedWithChecksum.Checksum = &checksum

	tests := []struct {
		name    string
		update  Update
		wantErr bool
	}{
		{name: "downloading", update: Downloading(0.3)},
		{name: "completed", update: Completed("/data/x", 10, "abc", now)},
		{name: "failed", update: Failed("boom")},
		{name: "empty", update: Update{}, wantErr: true},
		{name: "completed without checksum", update: incomplete, wantErr: true},
		{name: "completed with error", update: completedWithError, wantErr: true},
		{name: "failed with checksum", update: failedWithChecksum, wantErr: true},
		{name: "failed without reason", update: Update{Status: func() *Status { s := StatusFailed; return &s }()}, wantErr: true},
		{name: "unknown status", update: Update{Status: &bogus}, wantErr: true},
		{name: "progress out of range", update: Update{Progress: &tooFar}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.update.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdate_Assignments(t *testing.T) {
	got := Downloading(0.25).Assignments()

	assert.Equal(t, []Assignment{{"status", "downloading"}, {"progress", 0.25}}, got)

	completed := Completed("/data/x", 10, "abc", time.Unix(0, 0))
	cols := make([]string, 0)

	for _, a := range completed.Assignments() {
		cols = append(cols, a.Column)
	}

	assert.Equal(t, []string{"status", "progress", "file_size", "file_path", "checksum", "completed_at"}, cols)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusDownloading.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestMetadata_RoundTrip(t *testing.T) {
	encoded, err := EncodeMetadata(map[string]any{"validate_format": true, "batch": true})
	require.NoError(t, err)

	decoded, err := DecodeMetadata([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, true, decoded["batch"])

	empty, err := EncodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)

	m, err := DecodeMetadata(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = DecodeMetadata([]byte("{"))
	assert.Error(t, err)
}

type stubStore struct {
	JobStore
	err error
}

func (s stubStore) FindByID(context.Context, string) (*Job, error) {
	if s.err != nil {
		return nil, s.err
	}

	return &Job{ID: "a"}, nil
}

func (s stubStore) Count(context.Context, Filter) (int, error) {
	return 3, s.err
}

func TestInstrumented_PassesThrough(t *testing.T) {
	store := NewInstrumented(stubStore{}, nil)

	job, err := store.FindByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", job.ID)

	n, err := store.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	failing := NewInstrumented(stubStore{err: ErrNotFound}, nil)

	_, err = failing.FindByID(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrNotFound))

	n, err = failing.Count(context.Background(), Filter{})
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}
