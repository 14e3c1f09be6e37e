package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBatchAPI implements BatchAPI on the OpenAI files and batches endpoints.
type OpenAIBatchAPI struct {
	chat *OpenAIClient
}

// NewOpenAIBatchAPI reuses chat's connection settings and request builder.
func NewOpenAIBatchAPI(chat *OpenAIClient) *OpenAIBatchAPI {
	return &OpenAIBatchAPI{chat: chat}
}

func (a *OpenAIBatchAPI) Upload(ctx context.Context, name string, requests []BatchRequest) (string, error) {
	req := openai.UploadBatchFileRequest{FileName: name}
	for _, r := range requests {
		req.AddChatCompletion(r.CustomID, a.chat.BuildChatRequest(r.Messages))
	}
	file, err := a.chat.API().UploadBatchFile(ctx, req)
	if err != nil {
		return "", err
	}
	return file.ID, nil
}

func (a *OpenAIBatchAPI) Create(ctx context.Context, inputFileID string) (string, error) {
	resp, err := a.chat.API().CreateBatch(ctx, openai.CreateBatchRequest{
		InputFileID:      inputFileID,
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: "24h",
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (a *OpenAIBatchAPI) Retrieve(ctx context.Context, batchID string) (BatchStatus, error) {
	resp, err := a.chat.API().RetrieveBatch(ctx, batchID)
	if err != nil {
		return BatchStatus{}, err
	}
	status := BatchStatus{ID: resp.ID, Status: resp.Status}
	if resp.OutputFileID != nil {
		status.OutputFileID = *resp.OutputFileID
	}
	return status, nil
}

type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                           `json:"status_code"`
		Body       openai.ChatCompletionResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *OpenAIBatchAPI) Download(ctx context.Context, fileID string) ([]BatchOutput, error) {
	raw, err := a.chat.API().GetFileContent(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer raw.Close()
	return ParseBatchOutput(bufio.NewScanner(raw))
}

// ParseBatchOutput decodes a JSONL batch output file.
func ParseBatchOutput(sc *bufio.Scanner) ([]BatchOutput, error) {
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []BatchOutput
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var l batchOutputLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("failed to decode batch output line: %w", err)
		}
		o := BatchOutput{CustomID: l.CustomID}
		switch {
		case l.Error != nil:
			o.Error = l.Error.Code + ": " + l.Error.Message
		case l.Response == nil || l.Response.StatusCode != 200:
			o.Error = "non-200 response"
		case len(l.Response.Body.Choices) == 0:
			o.Error = "no choices"
		default:
			o.Content = l.Response.Body.Choices[0].Message.Content
		}
		out = append(out, o)
	}
	return out, sc.Err()
}
