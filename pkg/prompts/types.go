package prompts

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/soundprediction/go-vetgraph/pkg/llm"
)

// PromptFunction is a function that generates prompt messages from context.
type PromptFunction func(context map[string]interface{}) ([]llm.Message, error)

// PromptVersion represents a versioned prompt function.
type PromptVersion interface {
	Call(context map[string]interface{}) ([]llm.Message, error)
}

// promptVersionImpl implements PromptVersion.
type promptVersionImpl struct {
	fn PromptFunction
}

// Call executes the prompt function with the given context.
func (p *promptVersionImpl) Call(context map[string]interface{}) ([]llm.Message, error) {
	return p.fn(context)
}

// NewPromptVersion creates a new PromptVersion from a function.
func NewPromptVersion(fn PromptFunction) PromptVersion {
	return &promptVersionImpl{fn: fn}
}

// PerformVariableReplacements replaces every {key} in template with its value.
// Placeholders without a value are left as they are.
func PerformVariableReplacements(template string, variables map[string]string) string {
	if len(variables) == 0 {
		return template
	}
	pairs := make([]string, 0, len(variables)*2)
	for k, v := range variables {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// ToPromptCSV renders rows as CSV with a leading header row. The first column
// is a running id, as the community report prompt expects.
func ToPromptCSV(header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"id"}, header...)); err != nil {
		return "", err
	}
	for i, row := range rows {
		if err := w.Write(append([]string{fmt.Sprint(i)}, row...)); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stringVars copies the string-valued entries of context.
func stringVars(context map[string]interface{}) map[string]string {
	vars := make(map[string]string, len(context))
	for k, v := range context {
		switch t := v.(type) {
		case string:
			vars[k] = t
		case []string:
			vars[k] = strings.Join(t, ", ")
		case fmt.Stringer:
			vars[k] = t.String()
		}
	}
	return vars
}

func requireKeys(context map[string]interface{}, keys ...string) error {
	for _, k := range keys {
		if _, ok := context[k]; !ok {
			return fmt.Errorf("prompt context missing %q", k)
		}
	}
	return nil
}

// systemThenOutput is the message shape every template in this package uses.
func systemThenOutput(system string) []llm.Message {
	return []llm.Message{
		llm.NewSystemMessage(system),
		llm.NewUserMessage("Output:"),
	}
}
