package service

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyeon-dev/ragserver/internal/config"
	"github.com/hyeon-dev/ragserver/internal/filestore"
	"github.com/hyeon-dev/ragserver/internal/model"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
)

func localStoreForTest(t *testing.T) filestore.Store {
	t.Helper()
	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)
	return store
}

func TestRenderExampleShapes(t *testing.T) {
	withInput := RenderExample(model.TuneExample{
		Instruction: "Translate to French",
		Input:       "good morning",
		Output:      "bonjour",
	})
	assert.Contains(t, withInput, "### Instruction:\nTranslate to French")
	assert.Contains(t, withInput, "### Input:\ngood morning")
	assert.Contains(t, withInput, "### Response:\nbonjour")

	noInput := RenderExample(model.TuneExample{
		Instruction: "Say hello",
		Output:      "hello",
	})
	assert.NotContains(t, noInput, "### Input:")
	assert.Contains(t, noInput, "### Instruction:\nSay hello")
	assert.Contains(t, noInput, "### Response:\nhello")
}

func TestBuildDatasetValidation(t *testing.T) {
	svc := NewTuneService(nil, config.TuneConfig{})
	_, err := svc.BuildDataset(nil)
	assert.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = svc.BuildDataset([]model.TuneExample{{Instruction: "x"}})
	assert.ErrorIs(t, err, appErr.ErrInvalid)

	rendered, err := svc.BuildDataset([]model.TuneExample{
		{Instruction: "a", Output: "b"},
		{Instruction: "c", Input: "d", Output: "e"},
	})
	require.NoError(t, err)
	assert.Len(t, rendered, 2)
}

func TestSubmitWithoutTrainerWritesDataset(t *testing.T) {
	store := localStoreForTest(t)
	svc := NewTuneService(store, config.TuneConfig{})

	submission, err := svc.Submit(context.Background(), []model.TuneExample{
		{Instruction: "a", Output: "b"},
		{Instruction: "c", Output: "d"},
	})
	assert.ErrorIs(t, err, ErrTrainerUnavailable)
	require.NotNil(t, submission)
	assert.Equal(t, 2, submission.Examples)
	assert.Empty(t, submission.JobID)

	rc, err := store.Open(context.Background(), submission.DatasetKey)
	require.NoError(t, err)
	defer rc.Close()
	lines := 0
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		var row map[string]string
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		assert.NotEmpty(t, row["text"])
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestSubmitDispatchesToTrainer(t *testing.T) {
	var got map[string]interface{}
	trainer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-42"}`))
	}))
	defer trainer.Close()

	svc := NewTuneService(localStoreForTest(t), config.TuneConfig{
		TrainerURL: trainer.URL,
		Epochs:     3,
		LoraR:      16,
		LoraAlpha:  32,
		LearnRate:  2e-4,
		MaxSeqLen:  512,
	})
	submission, err := svc.Submit(context.Background(), []model.TuneExample{
		{Instruction: "a", Output: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-42", submission.JobID)
	assert.Equal(t, float64(3), got["epochs"])
	assert.Equal(t, float64(16), got["lora_r"])
	assert.NotEmpty(t, got["dataset"])
}
