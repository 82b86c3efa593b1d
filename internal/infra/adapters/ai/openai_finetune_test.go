package ai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/require"

	"llm-finetune/internal/config"
	"llm-finetune/internal/dataset"
	"llm-finetune/internal/domain"
	"llm-finetune/internal/domain/model"
	ai "llm-finetune/internal/infra/adapters/ai"
	"llm-finetune/internal/usecase"
)

func newProvider(t *testing.T, h http.Handler) *ai.OpenAIFinetuneProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := ai.NewOpenAIFinetuneProvider(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil, option.WithMaxRetries(0))
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestUploadFile(t *testing.T) {
	var purpose, filename, content string
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		purpose = r.FormValue("purpose")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		filename, content = hdr.Filename, string(b)
		writeJSON(w, http.StatusOK, `{"id":"file-abc","object":"file","bytes":3,"created_at":1700000000,"filename":"train.jsonl","purpose":"fine-tune","status":"uploaded"}`)
	}))

	rf, err := p.UploadFile(context.Background(), "train.jsonl", strings.NewReader("{}\n"))
	require.NoError(t, err)
	require.Equal(t, "file-abc", rf.ID)
	require.Equal(t, model.FilePurposeFineTune, rf.Purpose)
	require.Equal(t, int64(3), rf.Bytes)
	require.Equal(t, int64(1700000000), rf.CreatedAt.Unix())

	require.Equal(t, "fine-tune", purpose)
	require.Equal(t, "train.jsonl", filename)
	require.Equal(t, "{}\n", content)
}

func TestCreateJob(t *testing.T) {
	var body map[string]any
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fine_tuning/jobs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, `{"id":"ftjob-1","object":"fine_tuning.job","created_at":1700000000,
			"model":"gpt-3.5-turbo","fine_tuned_model":null,"status":"validating_files",
			"training_file":"file-abc","finished_at":null,"error":null,"trained_tokens":null}`)
	}))

	job, err := p.CreateJob(context.Background(), model.CreateJobRequest{TrainingFileID: "file-abc", BaseModel: "gpt-3.5-turbo", Suffix: "support"})
	require.NoError(t, err)
	require.Equal(t, "ftjob-1", job.ID)
	require.Equal(t, model.JobStatusValidatingFiles, job.Status)
	require.False(t, job.HasModel())
	require.Nil(t, job.FinishedAt)
	require.Nil(t, job.Error)

	require.Equal(t, "gpt-3.5-turbo", body["model"])
	require.Equal(t, "file-abc", body["training_file"])
	require.Equal(t, "support", body["suffix"])
}

func TestCreateJob_FileNotReady(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":{"message":"File 'file-abc' is not ready","type":"invalid_request_error","param":"training_file","code":null}}`)
	}))

	_, err := p.CreateJob(context.Background(), model.CreateJobRequest{TrainingFileID: "file-abc", BaseModel: "gpt-3.5-turbo"})
	require.ErrorIs(t, err, domain.ErrFileNotReady)
}

func TestCreateJob_OtherInvalidRequestIsNotRetryable(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":{"message":"Model gpt-x is not available for fine-tuning","type":"invalid_request_error","param":"model","code":"model_not_available"}}`)
	}))

	_, err := p.CreateJob(context.Background(), model.CreateJobRequest{TrainingFileID: "file-abc", BaseModel: "gpt-x"})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrFileNotReady)
}

func TestCreateJob_FileNotReadyVariants(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		ready bool
	}{
		{
			name:  "still being processed",
			body:  `{"error":{"message":"File file-abc is still being processed.","type":"invalid_request_error","param":"training_file","code":null}}`,
			ready: true,
		},
		{
			name:  "not ready code",
			body:  `{"error":{"message":"Try again later.","type":"invalid_request_error","param":null,"code":"file_not_ready"}}`,
			ready: true,
		},
		{
			name: "wrong purpose",
			body: `{"error":{"message":"File file-abc has purpose 'assistants', expected 'fine-tune'","type":"invalid_request_error","param":"training_file","code":null}}`,
		},
		{
			name: "too large",
			body: `{"error":{"message":"File file-abc exceeds the maximum size for fine-tuning","type":"invalid_request_error","param":"training_file","code":"file_too_large"}}`,
		},
		{
			name: "unknown file",
			body: `{"error":{"message":"Invalid file ID: file-nope","type":"invalid_request_error","param":"training_file","code":null}}`,
		},
		{
			name: "processing failure",
			body: `{"error":{"message":"There was an error processing file file-abc","type":"invalid_request_error","param":"training_file","code":null}}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, tc.body)
			}))
			_, err := p.CreateJob(context.Background(), model.CreateJobRequest{TrainingFileID: "file-abc", BaseModel: "gpt-3.5-turbo"})
			require.Error(t, err)
			if tc.ready {
				require.ErrorIs(t, err, domain.ErrFileNotReady)
			} else {
				require.NotErrorIs(t, err, domain.ErrFileNotReady)
			}
		})
	}
}

type acceptAll struct{}

func (acceptAll) Validate(path string) (*dataset.Report, error) {
	return &dataset.Report{Path: path, Examples: 1}, nil
}

func TestFinetune_TrainingFileRejectionIsNotRetried(t *testing.T) {
	var creates atomic.Int32
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files":
			writeJSON(w, http.StatusOK, `{"id":"file-abc","object":"file","bytes":3,"created_at":1700000000,"filename":"train.jsonl","purpose":"fine-tune","status":"uploaded"}`)
		case "/fine_tuning/jobs":
			creates.Add(1)
			writeJSON(w, http.StatusBadRequest, `{"error":{"message":"File file-abc has purpose 'assistants', expected 'fine-tune'","type":"invalid_request_error","param":"training_file","code":null}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	data := filepath.Join(t.TempDir(), "train.jsonl")
	require.NoError(t, os.WriteFile(data, []byte("{}\n"), 0o600))

	var sleeps []time.Duration
	retry := usecase.DefaultRetryPolicy()
	retry.Sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	e, err := usecase.NewFinetuneEngine(context.Background(), usecase.FinetuneConfig{
		BaseModel: "gpt-3.5-turbo",
		DataPath:  data,
		Retry:     retry,
	}, usecase.FinetuneDeps{Provider: p, Validator: acceptAll{}})
	require.NoError(t, err)

	err = e.Finetune(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrFileNotReady)
	require.Empty(t, sleeps)
	require.Equal(t, int32(1), creates.Load())

	_, held := e.Job()
	require.False(t, held)
}

func TestRetrieveJob(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fine_tuning/jobs/ftjob-1":
			writeJSON(w, http.StatusOK, `{"id":"ftjob-1","object":"fine_tuning.job","created_at":1700000000,
				"model":"gpt-3.5-turbo","fine_tuned_model":"ft:gpt-3.5-turbo:org::abc123","status":"succeeded",
				"training_file":"file-abc","finished_at":1700003600,"trained_tokens":4200,"error":null}`)
		case "/fine_tuning/jobs/ftjob-2":
			writeJSON(w, http.StatusOK, `{"id":"ftjob-2","object":"fine_tuning.job","created_at":1700000000,
				"model":"gpt-3.5-turbo","fine_tuned_model":null,"status":"failed","training_file":"file-abc",
				"finished_at":1700000100,"error":{"code":"invalid_training_file","message":"bad line 3","param":"training_file"}}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"error":{"message":"No such job","type":"invalid_request_error","param":null,"code":null}}`)
		}
	}))
	ctx := context.Background()

	job, err := p.RetrieveJob(ctx, "ftjob-1")
	require.NoError(t, err)
	require.True(t, job.Succeeded())
	require.Equal(t, "ft:gpt-3.5-turbo:org::abc123", job.FineTunedModel)
	require.Equal(t, int64(4200), job.TrainedTokens)
	require.NotNil(t, job.FinishedAt)
	require.True(t, job.Status.IsTerminal())

	failed, err := p.RetrieveJob(ctx, "ftjob-2")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	require.Equal(t, "invalid_training_file", failed.Error.Code)

	_, err = p.RetrieveJob(ctx, "ftjob-404")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
