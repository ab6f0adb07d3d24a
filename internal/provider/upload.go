package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/vegerot/dayflow/internal/errors"
)

// uploadClient implements the three-phase file contract against the
// Gemini files API: start a resumable session, stream the bytes, then
// poll until the remote side reports the file ready. Timeout and remote
// failure surface as distinct error kinds.
type uploadClient struct {
	base        string
	apiKey      string
	client      *http.Client
	pollDelay   time.Duration
	pollTimeout time.Duration
}

// uploadedFile is the handle the generate call references.
type uploadedFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	State    string `json:"state"`
	MimeType string `json:"mimeType"`
}

type fileEnvelope struct {
	File uploadedFile `json:"file"`
}

// UploadAndWait runs all three phases and returns a ready file handle.
func (u *uploadClient) UploadAndWait(ctx context.Context, path string) (*uploadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewStorage(err)
	}

	session, err := u.startSession(ctx, info.Size())
	if err != nil {
		return nil, err
	}

	file, err := u.streamFile(ctx, session, path, info.Size())
	if err != nil {
		return nil, err
	}

	return u.pollUntilReady(ctx, file)
}

// startSession begins a resumable upload and returns the session URL.
func (u *uploadClient) startSession(ctx context.Context, size int64) (string, error) {
	meta, _ := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": "batch-video"},
	})

	endpoint := fmt.Sprintf("%s/upload/v1beta/files?key=%s", u.base, u.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(meta))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", fmt.Sprintf("%d", size))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", "video/mp4")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", errors.NewTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", errors.NewTransport(fmt.Errorf("upload start: %s (%s)", resp.Status, string(body)))
	}

	session := resp.Header.Get("X-Goog-Upload-URL")
	if session == "" {
		return "", errors.NewContent("upload start response missing session URL")
	}
	return session, nil
}

// streamFile sends the file bytes to the session and finalizes it.
func (u *uploadClient) streamFile(ctx context.Context, session, path string, size int64) (*uploadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session, f)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	req.ContentLength = size
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	req.Header.Set("X-Goog-Upload-Offset", "0")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, errors.NewTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransport(err)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.NewTransport(fmt.Errorf("upload: %s (%s)", resp.Status, string(body)))
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.NewContent("upload response is not valid JSON: " + err.Error())
	}
	if envelope.File.Name == "" {
		return nil, errors.NewContent("upload response missing file name")
	}
	return &envelope.File, nil
}

// pollUntilReady polls the file's status endpoint at a fixed delay until
// it reports ready, failed, or the configured timeout elapses.
func (u *uploadClient) pollUntilReady(ctx context.Context, file *uploadedFile) (*uploadedFile, error) {
	deadline := time.Now().Add(u.pollTimeout)

	for {
		switch file.State {
		case "ACTIVE":
			return file, nil
		case "FAILED":
			return nil, errors.NewTransport(fmt.Errorf("remote file processing failed for %s", file.Name))
		}

		if time.Now().After(deadline) {
			return nil, errors.NewTimeout("file processing", int(u.pollTimeout/time.Second))
		}

		select {
		case <-ctx.Done():
			return nil, errors.NewTransport(ctx.Err())
		case <-time.After(u.pollDelay):
		}

		refreshed, err := u.getFile(ctx, file.Name)
		if err != nil {
			return nil, err
		}
		file = refreshed
	}
}

func (u *uploadClient) getFile(ctx context.Context, name string) (*uploadedFile, error) {
	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", u.base, name, u.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, errors.NewTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransport(err)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.NewTransport(fmt.Errorf("file status: %s (%s)", resp.Status, string(body)))
	}

	var file uploadedFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, errors.NewContent("file status response is not valid JSON: " + err.Error())
	}
	return &file, nil
}
