package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"
)

var thinkBlock = regexp.MustCompile(`(?s)^.*</think>`)

// StripThinking drops a leading reasoning block that some models emit before the answer.
func StripThinking(response string) string {
	return thinkBlock.ReplaceAllString(response, "")
}

// ExtractJSONFromResponse attempts to extract JSON from LLM responses that may contain
// markdown code blocks or other surrounding text.
func ExtractJSONFromResponse(response string) string {
	response = strings.TrimSpace(StripThinking(response))

	if start := strings.Index(response, "```json"); start != -1 {
		rest := response[start+7:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}

	if strings.HasPrefix(response, "```") {
		lines := strings.Split(response, "\n")
		if len(lines) > 2 {
			return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart != -1 && jsonEnd > jsonStart {
		return response[jsonStart : jsonEnd+1]
	}

	jsonStart = strings.Index(response, "[")
	jsonEnd = strings.LastIndex(response, "]")
	if jsonStart != -1 && jsonEnd > jsonStart {
		return response[jsonStart : jsonEnd+1]
	}

	return response
}

// DecodeJSONResponse extracts the JSON part of a completion, repairs common
// model mistakes (trailing commas, single quotes, truncation) and decodes it into out.
func DecodeJSONResponse(response string, out any) error {
	raw := ExtractJSONFromResponse(response)
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("failed to repair JSON response: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}
