// Package replicate talks to the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/facemoji/internal/generation"
	"github.com/example/facemoji/internal/httpclient"
)

// Prediction statuses reported by the API.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	APIToken      string
	StylizeModel  string
	RemoveBGModel string
	PollInterval  time.Duration
	// RequestTimeout bounds each single HTTP round trip.
	RequestTimeout time.Duration
}

// Client runs models on Replicate. It implements generation.Stylizer and
// generation.BackgroundRemover.
type Client struct {
	cli    httpclient.IClient
	cfg    Config
	logger *zap.Logger
}

var (
	_ generation.Stylizer          = (*Client)(nil)
	_ generation.BackgroundRemover = (*Client)(nil)
)

// NewClient builds a Client. A nil cli uses httpclient.NewHTTPClient.
func NewClient(cfg Config, cli httpclient.IClient, logger *zap.Logger) *Client {
	if cli == nil {
		cli = httpclient.NewHTTPClient()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cli: cli, cfg: cfg, logger: logger.Named("replicate")}
}

type prediction struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Output interface{} `json:"output"`
	Error  interface{} `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type fileResp struct {
	ID   string `json:"id"`
	URLs struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Stylize uploads the image at imagePath and runs the stylization model on it.
func (c *Client) Stylize(ctx context.Context, imagePath string, params generation.StyleParams) (interface{}, error) {
	imageURL, err := c.UploadFile(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	input := map[string]interface{}{
		"image":               imageURL,
		"style":               params.Style,
		"prompt":              params.Prompt,
		"instant_id_strength": params.InstantIDStrength,
		"width":               params.Width,
	}
	return c.Run(ctx, c.cfg.StylizeModel, input)
}

// RemoveBackground runs the background removal model on imageRef.
func (c *Client) RemoveBackground(ctx context.Context, imageRef string) (interface{}, error) {
	return c.Run(ctx, c.cfg.RemoveBGModel, map[string]interface{}{"image": imageRef})
}

// UploadFile stores a local file on Replicate and returns the URL models can
// read it from.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("content", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	resp := &fileResp{}
	err = c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: c.cfg.BaseURL + "/files",
		Method:     http.MethodPost,
		Header:     c.headers(map[string]string{"Content-Type": writer.FormDataContentType()}),
		Body:       body,
		Response:   resp,
		Timeout:    c.cfg.RequestTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if resp.URLs.Get == "" {
		return "", fmt.Errorf("upload file: response has no url")
	}
	c.logger.Debug("uploaded file", zap.String("file_id", resp.ID))
	return resp.URLs.Get, nil
}

// Run creates a prediction for model ("owner/name:version" or a bare version
// id) and waits until it reaches a terminal status.
func (c *Client) Run(ctx context.Context, model string, input map[string]interface{}) (interface{}, error) {
	pred := &prediction{}
	err := c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: c.cfg.BaseURL + "/predictions",
		Method:     http.MethodPost,
		Header:     c.headers(map[string]string{"Prefer": "wait"}),
		Body:       map[string]interface{}{"version": versionOf(model), "input": input},
		Response:   pred,
		Timeout:    c.cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create prediction for %s: %w", model, err)
	}

	for {
		switch pred.Status {
		case StatusSucceeded:
			c.logger.Debug("prediction succeeded", zap.String("prediction_id", pred.ID), zap.String("model", model))
			return pred.Output, nil
		case StatusFailed, StatusCanceled:
			return nil, fmt.Errorf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error)
		}

		if pred.URLs.Get == "" {
			return nil, fmt.Errorf("prediction %s in status %q has no polling url", pred.ID, pred.Status)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("prediction %s: %w", pred.ID, ctx.Err())
		case <-time.After(c.cfg.PollInterval):
		}

		next := &prediction{}
		err := c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
			RequestURI: pred.URLs.Get,
			Method:     http.MethodGet,
			Header:     c.headers(nil),
			Response:   next,
			Timeout:    c.cfg.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("poll prediction %s: %w", pred.ID, err)
		}
		pred = next
	}
}

func (c *Client) headers(extra map[string]string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + c.cfg.APIToken}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// versionOf extracts the version id from "owner/name:version".
func versionOf(model string) string {
	if i := strings.LastIndex(model, ":"); i >= 0 {
		return model[i+1:]
	}
	return model
}
