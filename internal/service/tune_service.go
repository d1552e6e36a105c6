package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/config"
	"github.com/hyeon-dev/ragserver/internal/filestore"
	"github.com/hyeon-dev/ragserver/internal/model"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
)

// ErrTrainerUnavailable is returned by Submit when no trainer endpoint is
// configured; the dataset is still written.
var ErrTrainerUnavailable = errors.New("trainer endpoint not configured")

const tunePromptWithInput = `Below is an instruction that describes a task, paired with an input that provides further context. Write a response that appropriately completes the request.

### Instruction:
%s

### Input:
%s

### Response:
%s`

const tunePromptNoInput = `Below is an instruction that describes a task. Write a response that appropriately completes the request.

### Instruction:
%s

### Response:
%s`

// TuneSubmission reports where the dataset landed and, when a trainer was
// reachable, the job it started.
type TuneSubmission struct {
	DatasetKey string
	JobID      string
	Examples   int
}

type TuneService struct {
	store  filestore.Store
	client *http.Client
	cfg    config.TuneConfig
}

func NewTuneService(store filestore.Store, cfg config.TuneConfig) *TuneService {
	return &TuneService{
		store:  store,
		client: &http.Client{Timeout: 60 * time.Second},
		cfg:    cfg,
	}
}

// RenderExample formats one instruction/input/output triple into the training
// prompt. Triples without an input use the short template shape.
func RenderExample(ex model.TuneExample) string {
	if strings.TrimSpace(ex.Input) == "" {
		return fmt.Sprintf(tunePromptNoInput, ex.Instruction, ex.Output)
	}
	return fmt.Sprintf(tunePromptWithInput, ex.Instruction, ex.Input, ex.Output)
}

// BuildDataset renders every example, rejecting ones without an instruction
// or output.
func (s *TuneService) BuildDataset(examples []model.TuneExample) ([]string, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: no examples", appErr.ErrInvalid)
	}
	rendered := make([]string, 0, len(examples))
	for i, ex := range examples {
		if strings.TrimSpace(ex.Instruction) == "" || strings.TrimSpace(ex.Output) == "" {
			return nil, fmt.Errorf("%w: example %d needs instruction and output", appErr.ErrInvalid, i)
		}
		rendered = append(rendered, RenderExample(ex))
	}
	return rendered, nil
}

// Submit writes the rendered dataset as JSONL and dispatches a training job
// to the configured trainer. Without a trainer URL the dataset key is
// returned together with ErrTrainerUnavailable.
func (s *TuneService) Submit(ctx context.Context, examples []model.TuneExample) (*TuneSubmission, error) {
	rendered, err := s.BuildDataset(examples)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, fmt.Errorf("file store is not configured")
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, text := range rendered {
		if err := encoder.Encode(map[string]string{"text": text}); err != nil {
			return nil, err
		}
	}
	key := fmt.Sprintf("tune/dataset-%d.jsonl", time.Now().UnixNano())
	data := buf.Bytes()
	if err := s.store.Save(ctx, key, nopSeekCloser{bytes.NewReader(data)}, int64(len(data))); err != nil {
		return nil, fmt.Errorf("save dataset: %w", err)
	}
	logutil.GetLogger(ctx).Info("tune dataset written",
		zap.String("key", key),
		zap.Int("examples", len(rendered)),
	)

	submission := &TuneSubmission{DatasetKey: key, Examples: len(rendered)}
	if strings.TrimSpace(s.cfg.TrainerURL) == "" {
		return submission, ErrTrainerUnavailable
	}
	jobID, err := s.dispatch(ctx, key)
	if err != nil {
		return submission, fmt.Errorf("dispatch training job: %w", err)
	}
	submission.JobID = jobID
	return submission, nil
}

func (s *TuneService) dispatch(ctx context.Context, datasetKey string) (string, error) {
	payload := map[string]interface{}{
		"dataset":       datasetKey,
		"epochs":        s.cfg.Epochs,
		"lora_r":        s.cfg.LoraR,
		"lora_alpha":    s.cfg.LoraAlpha,
		"learning_rate": s.cfg.LearnRate,
		"max_seq_len":   s.cfg.MaxSeqLen,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	url := strings.TrimSuffix(s.cfg.TrainerURL, "/") + "/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	rsp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK && rsp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("trainer returned status %d", rsp.StatusCode)
	}
	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(rsp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.JobID, nil
}
