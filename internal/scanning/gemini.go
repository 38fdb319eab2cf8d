package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/option"
)

var errFileProcessing = errors.New("file is still processing")

// fileService is the subset of the Gemini File API used by the scanner
type fileService interface {
	UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error)
	GetFile(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// PollConfig bounds the wait for an uploaded file to become active
type PollConfig struct {
	Base    time.Duration
	Cap     time.Duration
	Timeout time.Duration
}

// DefaultPollConfig starts at one second and gives up after two minutes
var DefaultPollConfig = PollConfig{
	Base:    time.Second,
	Cap:     10 * time.Second,
	Timeout: 2 * time.Minute,
}

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	files  fileService
	model  contentGenerator
	poll   PollConfig
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"

	return &Gemini{
		client: client,
		files:  client,
		model:  model,
		poll:   DefaultPollConfig,
	}, nil
}

// newGeminiWithDeps wires fakes in place of the remote API for tests
func newGeminiWithDeps(files fileService, model contentGenerator, poll PollConfig) *Gemini {
	return &Gemini{files: files, model: model, poll: poll}
}

// ScanReceipt uploads the receipt, waits for Gemini to finish ingesting it and
// asks the model for the receipt fields
func (g *Gemini) ScanReceipt(ctx context.Context, filename string, imageData []byte, contentType string) ([]ReceiptData, error) {
	data, mimeType, err := normalizeImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	file, err := g.files.UploadFile(ctx, "", bytes.NewReader(data), &genai.UploadFileOptions{
		DisplayName: filename,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("uploading file: %w", err)
	}
	defer func() {
		// Uploaded files expire on their own; deleting early is best effort.
		if err := g.files.DeleteFile(context.WithoutCancel(ctx), file.Name); err != nil {
			slog.Warn("Failed to delete uploaded file", "file", file.Name, "error", err)
		}
	}()

	file, err = g.waitForFile(ctx, file)
	if err != nil {
		return nil, err
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.FileData{MIMEType: file.MIMEType, URI: file.URI},
		genai.Text(receiptScanPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	receipts, err := ParseReceipts(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return receipts, nil
}

// waitForFile polls the file state with capped exponential backoff until it
// leaves PROCESSING or the poll timeout elapses
func (g *Gemini) waitForFile(ctx context.Context, file *genai.File) (*genai.File, error) {
	if file.State != genai.FileStateProcessing {
		return checkFileState(file)
	}

	b := retry.NewExponential(g.poll.Base)
	b = retry.WithCappedDuration(g.poll.Cap, b)
	b = retry.WithMaxDuration(g.poll.Timeout, b)

	current := file
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		f, err := g.files.GetFile(ctx, file.Name)
		if err != nil {
			return fmt.Errorf("getting file state: %w", err)
		}
		current = f
		if f.State == genai.FileStateProcessing {
			return retry.RetryableError(errFileProcessing)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errFileProcessing) {
			return nil, fmt.Errorf("file %s not ready after %s: %w", file.Name, g.poll.Timeout, err)
		}
		return nil, err
	}
	return checkFileState(current)
}

func checkFileState(file *genai.File) (*genai.File, error) {
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("gemini failed to process file %s", file.Name)
	}
	return file, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
