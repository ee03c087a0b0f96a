package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModel = "gemini-2.5-pro"
	geminiScanTimeout  = 30 * time.Second
)

// Gemini implements Scanner and duplicate.Provider using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates a new Gemini instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
	}, nil
}

// ScanReceipt analyzes a receipt and extracts metadata
func (g *Gemini) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiScanTimeout)
	defer cancel()

	text, err := g.Send(ctx, imageData, contentType, receiptScanPrompt)
	if err != nil {
		return nil, err
	}

	data, err := parseReceiptJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return data, nil
}

// Send sends one image and a prompt to Gemini and returns the text reply.
func (g *Gemini) Send(ctx context.Context, imageData []byte, contentType string, prompt string) (string, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0.1)

	// genai.ImageData expects the format suffix ("png"), not the MIME type
	resp, err := model.GenerateContent(ctx,
		genai.ImageData("png", pngData),
		genai.Text(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
