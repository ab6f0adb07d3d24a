package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vegerot/dayflow/internal/errors"
)

// geminiProvider is the holistic shape: one multimodal call transcribes
// the whole stitched video, one call synthesizes cards. Fixed 2-call
// cost per batch regardless of batch length (plus the file upload).
type geminiProvider struct {
	base     string
	apiKey   string
	model    string
	client   *http.Client
	uploader *uploadClient
}

func (p *geminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *geminiProvider) Transcribe(ctx context.Context, videoPath string) ([]Observation, []CallLog, error) {
	var logs []CallLog

	file, err := p.uploader.UploadAndWait(ctx, videoPath)
	if err != nil {
		logs = append(logs, CallLog{
			Operation:      "upload",
			RequestPayload: videoPath,
			Status:         "failed: " + err.Error(),
			Attempt:        1,
		})
		return nil, logs, err
	}
	logs = append(logs, CallLog{
		Operation:       "upload",
		RequestPayload:  videoPath,
		ResponsePayload: file.URI,
		Status:          "success",
		Attempt:         1,
	})

	prompt := buildTranscriptionPrompt()
	raw, log, err := p.generate(ctx, prompt, file)
	logs = append(logs, log)
	if err != nil {
		return nil, logs, err
	}

	observations, err := parseObservations(raw)
	if err != nil {
		return nil, logs, err
	}
	return observations, logs, nil
}

func (p *geminiProvider) SynthesizeCards(ctx context.Context, observations []Observation, pctx Context) ([]CardDraft, []CallLog, error) {
	if len(observations) == 0 {
		return nil, nil, errors.NewContent("no observations to synthesize")
	}

	prompt := buildSynthesisPrompt(observations, pctx)
	raw, log, err := p.generate(ctx, prompt, nil)
	logs := []CallLog{log}
	if err != nil {
		return nil, logs, err
	}

	cards, err := parseCards(raw, pctx.Categories)
	if err != nil {
		return nil, logs, err
	}
	return cards, logs, nil
}

// generate issues one generateContent call, optionally referencing an
// uploaded file, and returns the model text plus the audit log entry.
func (p *geminiProvider) generate(ctx context.Context, prompt string, file *uploadedFile) (string, CallLog, error) {
	parts := []map[string]any{}
	if file != nil {
		parts = append(parts, map[string]any{
			"file_data": map[string]any{
				"mime_type": "video/mp4",
				"file_uri":  file.URI,
			},
		})
	}
	parts = append(parts, map[string]any{"text": prompt})

	payload := map[string]any{
		"contents": []map[string]any{{"parts": parts}},
		"generationConfig": map[string]any{
			"temperature": 0.2,
		},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", CallLog{}, errors.NewInternal(err)
	}

	log := CallLog{
		Operation:      "generate",
		RequestPayload: string(buf),
		Attempt:        1,
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.base, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewTransport(err)
	}
	log.ResponsePayload = string(body)

	if resp.StatusCode >= 400 {
		log.Status = "failed: " + resp.Status
		return "", log, errors.NewTransport(fmt.Errorf("gemini API error: %s (%s)", resp.Status, string(body)))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Status = "failed: " + err.Error()
		return "", log, errors.NewContent("gemini response is not valid JSON: " + err.Error())
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		log.Status = "failed: empty candidates"
		return "", log, errors.NewContent("gemini returned no candidates")
	}

	log.Status = "success"
	return strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text), log, nil
}
