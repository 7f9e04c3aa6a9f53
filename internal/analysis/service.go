package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatCompleter is the slice of the OpenAI client the service uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Service runs document and image analysis through the chat completions API.
type Service struct {
	client ChatCompleter
	model  string
	logger *zap.Logger
}

func NewService(client ChatCompleter, model string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, model: model, logger: logger}
}

// Chat answers one user message with optional prior turns.
func (s *Service) Chat(ctx context.Context, systemPrompt string, history []openai.ChatCompletionMessage, message string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	return s.complete(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    msgs,
		MaxTokens:   1000,
		Temperature: 0.7,
	})
}

// AnalyzeImage runs OCR-style analysis on a base64 image. An empty prompt
// selects the policy-document expert prompt.
func (s *Service) AnalyzeImage(ctx context.Context, imageB64, customPrompt string) (string, error) {
	if imageB64 == "" {
		return "", errors.New("image payload is empty")
	}
	promptText := customPrompt
	if promptText == "" {
		promptText = imageExpertPrompt
	}

	return s.complete(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: promptText},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL: imageDataURL(imageB64),
				}},
			},
		}},
		MaxTokens: 2000,
	})
}

// AnalyzeFile extracts text from an uploaded file (PDF or plain text) and
// runs the document expert prompt over it. Returns the analysis and the
// extracted text length.
func (s *Service) AnalyzeFile(ctx context.Context, fileB64, fileName, fileType, customPrompt string) (string, int, error) {
	if fileB64 == "" {
		return "", 0, errors.New("file payload is empty")
	}
	data, err := base64.StdEncoding.DecodeString(stripDataURL(fileB64))
	if err != nil {
		return "", 0, fmt.Errorf("decode file payload: %w", err)
	}

	var text string
	if fileType == "application/pdf" || strings.HasSuffix(fileName, ".pdf") {
		text, err = extractPDFText(data)
		if err != nil {
			return "", 0, fmt.Errorf("extract pdf text: %w", err)
		}
	} else {
		text = string(data)
	}
	s.logger.Debug("file text extracted",
		zap.String("file", fileName),
		zap.Int("chars", len([]rune(text))))

	userPrompt := customPrompt
	if userPrompt == "" {
		userPrompt = "다음 문서를 분석해주세요:\n\n" + clipRunes(text, 10000)
	}

	analysisText, err := s.complete(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fileExpertPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens: 3000,
	})
	if err != nil {
		return "", 0, err
	}
	return analysisText, len([]rune(text)), nil
}

// AnalyzeProspect extracts business details from a receipt or business card
// photo. The structured result is nil when the model's output is not valid
// JSON; the raw text is returned either way.
func (s *Service) AnalyzeProspect(ctx context.Context, imageB64, imageType string) (json.RawMessage, string, error) {
	if imageB64 == "" {
		return nil, "", errors.New("image payload is empty")
	}

	raw, err := s.complete(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prospectPrompt(imageType)},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "이 이미지에서 사업자 정보를 추출하고 보험 분석을 해주세요."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL: imageDataURL(imageB64),
					}},
				},
			},
		},
		MaxTokens:   2000,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, "", err
	}

	parsed, perr := parseFencedJSON(raw)
	if perr != nil {
		s.logger.Warn("prospect analysis returned unparseable json", zap.Error(perr))
		return nil, raw, nil
	}
	return parsed, raw, nil
}

// ProspectMessage drafts a sales message from previously extracted prospect
// data. Falls back to the raw model text when the JSON envelope is malformed.
func (s *Service) ProspectMessage(ctx context.Context, prospectData json.RawMessage, messageType string) (json.RawMessage, string, error) {
	if len(prospectData) == 0 {
		return nil, "", errors.New("prospect data is empty")
	}

	raw, err := s.complete(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prospectMessagePrompt(string(prospectData), messageType)},
			{Role: openai.ChatMessageRoleUser, Content: "이 고객에게 보낼 영업 메시지를 작성해주세요."},
		},
		MaxTokens:   1000,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, "", err
	}

	parsed, perr := parseFencedJSON(raw)
	if perr != nil {
		return nil, raw, nil
	}
	return parsed, raw, nil
}

func (s *Service) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseFencedJSON accepts the model's JSON whether or not it is wrapped in a
// markdown code fence.
func parseFencedJSON(raw string) (json.RawMessage, error) {
	candidate := raw
	if i := strings.Index(candidate, "```json"); i >= 0 {
		candidate = candidate[i+len("```json"):]
		if j := strings.Index(candidate, "```"); j >= 0 {
			candidate = candidate[:j]
		}
	} else if i := strings.Index(candidate, "```"); i >= 0 {
		candidate = candidate[i+len("```"):]
		if j := strings.Index(candidate, "```"); j >= 0 {
			candidate = candidate[:j]
		}
	}
	candidate = strings.TrimSpace(candidate)

	var check any
	if err := json.Unmarshal([]byte(candidate), &check); err != nil {
		return nil, err
	}
	return json.RawMessage(candidate), nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	body, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func stripDataURL(s string) string {
	if i := strings.Index(s, "base64,"); i >= 0 {
		return s[i+len("base64,"):]
	}
	return s
}

func imageDataURL(imageB64 string) string {
	return "data:image/jpeg;base64," + stripDataURL(imageB64)
}

func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
