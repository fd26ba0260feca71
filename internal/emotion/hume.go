package emotion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/callquality/backend/internal/utils"
)

const DefaultHumeBaseURL = "https://api.hume.ai/v0"

var ErrTimeout = errors.New("emotion job did not complete in time")

type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("hume job %s failed: %s", e.JobID, e.Message)
}

// HumeClient runs the prosody model as a batch job and polls until it settles.
type HumeClient struct {
	HTTP         *resty.Client
	PollInterval time.Duration
	MaxWait      time.Duration
}

func NewHumeClient(apiKey, baseURL string) *HumeClient {
	if baseURL == "" {
		baseURL = DefaultHumeBaseURL
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("X-Hume-Api-Key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(60 * time.Second)
	return &HumeClient{HTTP: c, PollInterval: 2 * time.Second, MaxWait: 300 * time.Second}
}

type jobFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

type jobRequest struct {
	Models map[string]struct{} `json:"models"`
	URLs   []string            `json:"urls"`
	Files  []jobFile           `json:"files"`
}

type jobState struct {
	State struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"state"`
}

type filePredictions struct {
	Results *struct {
		Predictions []struct {
			Models struct {
				Prosody struct {
					GroupedPredictions []struct {
						Predictions []struct {
							Time struct {
								Begin float64 `json:"begin"`
								End   float64 `json:"end"`
							} `json:"time"`
							Emotions []struct {
								Name  string  `json:"name"`
								Score float64 `json:"score"`
							} `json:"emotions"`
						} `json:"predictions"`
					} `json:"grouped_predictions"`
				} `json:"prosody"`
			} `json:"models"`
		} `json:"predictions"`
	} `json:"results"`
}

func (h *HumeClient) Analyze(ctx context.Context, audio []byte, filename string) (Result, error) {
	jobID, err := h.submit(ctx, audio, filename)
	if err != nil {
		return Result{}, err
	}
	raw, err := h.wait(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	return Summarize(flatten(raw)), nil
}

func (h *HumeClient) submit(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.mp3"
	}
	body := jobRequest{
		Models: map[string]struct{}{"prosody": {}},
		URLs:   []string{},
		Files: []jobFile{{
			Filename:    filename,
			ContentType: audioContentType(filename),
			Data:        base64.StdEncoding.EncodeToString(audio),
		}},
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	resp, err := h.HTTP.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/batch/jobs")
	if err != nil {
		return "", fmt.Errorf("submit hume job: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("submit hume job: status %d: %s", resp.StatusCode(), utils.Truncate(resp.String(), 200))
	}
	if out.JobID == "" {
		return "", errors.New("submit hume job: response has no job_id")
	}
	return out.JobID, nil
}

func (h *HumeClient) wait(ctx context.Context, jobID string) ([]filePredictions, error) {
	interval := h.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxWait := h.MaxWait
	if maxWait <= 0 {
		maxWait = 300 * time.Second
	}
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var st jobState
		resp, err := h.HTTP.R().SetContext(ctx).SetResult(&st).Get("/batch/jobs/" + jobID)
		if err != nil {
			return nil, fmt.Errorf("poll hume job: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("poll hume job: status %d", resp.StatusCode())
		}

		switch st.State.Status {
		case "COMPLETED":
			var preds []filePredictions
			resp, err := h.HTTP.R().SetContext(ctx).SetResult(&preds).Get("/batch/jobs/" + jobID + "/predictions")
			if err != nil {
				return nil, fmt.Errorf("fetch hume predictions: %w", err)
			}
			if resp.IsError() {
				return nil, fmt.Errorf("fetch hume predictions: status %d", resp.StatusCode())
			}
			return preds, nil
		case "FAILED":
			return nil, &JobFailedError{JobID: jobID, Message: st.State.Message}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: job %s after %s", ErrTimeout, jobID, maxWait)
		case <-ticker.C:
		}
	}
}

func flatten(files []filePredictions) []Prediction {
	var out []Prediction
	for _, f := range files {
		if f.Results == nil {
			continue
		}
		for _, p := range f.Results.Predictions {
			for _, g := range p.Models.Prosody.GroupedPredictions {
				for _, seg := range g.Predictions {
					if len(seg.Emotions) == 0 {
						continue
					}
					pred := Prediction{
						Start:    seg.Time.Begin,
						End:      seg.Time.End,
						Emotions: make(map[string]float64, len(seg.Emotions)),
					}
					for _, e := range seg.Emotions {
						pred.Emotions[e.Name] = e.Score
						if pred.Dominant == "" || e.Score > pred.DominantScore {
							pred.Dominant, pred.DominantScore = e.Name, e.Score
						}
					}
					out = append(out, pred)
				}
			}
		}
	}
	return out
}

func audioContentType(filename string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/mp4"
	default:
		return "audio/mpeg"
	}
}
