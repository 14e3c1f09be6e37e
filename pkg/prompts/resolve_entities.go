package prompts

import (
	"fmt"
	"strings"

	"github.com/soundprediction/go-vetgraph/pkg/llm"
)

// Default delimiters for entity resolution answers.
const (
	DefaultResolutionRecordDelimiter = "##"
	DefaultEntityIndexDelimiter      = "<|>"
	DefaultResolutionResultDelimiter = "&&"
)

// ResolveEntitiesPrompt defines the interface for entity resolution prompts.
type ResolveEntitiesPrompt interface {
	Resolve() PromptVersion
}

// ResolveEntitiesVersions holds all versions of entity resolution prompts.
type ResolveEntitiesVersions struct {
	ResolvePrompt PromptVersion
}

func (r *ResolveEntitiesVersions) Resolve() PromptVersion { return r.ResolvePrompt }

// EntityResolutionTemplate asks the model to answer numbered same-entity questions.
const EntityResolutionTemplate = `
-Goal-
Please answer the following Question as required

-Steps-
1. Identify each line of questioning as required

2. Return output in English as a single list of each line answer in steps 1. Use **{record_delimiter}** as the list delimiter.

######################
-Examples-
######################
Example 1:

Question:
When determining whether two symptoms are the same, you should only focus on critical properties and overlook noisy factors.

Demonstration 1: name of symptom A is : "FEVER(发烧)", name of symptom B is :"COUGH(咳嗽)"  No, symptom A and symptom B are different symptoms.
Question 1: name of symptom A is : "DIARRHEA(腹泻)", name of symptom B is :"DIARRHOEA(腹泻)"
Question 2: name of symptom A is : "VOMITING(呕吐)", name of symptom B is :"VOMIT(呕吐)"
Question 3: name of symptom A is : "ANOREXIA(食欲减退)", name of symptom B is :"ANEMIA(贫血)"

Use domain knowledge of symptoms to help understand the text and answer the above 3 questions in the format: For Question i, Yes, symptom A and symptom B are the same symptom. or No, symptom A and symptom B are different symptoms. For Question i+1, (repeat the above procedures)
################
Output:
(For question {entity_index_delimiter}1{entity_index_delimiter}, {resolution_result_delimiter}Yes{resolution_result_delimiter}, symptom A and symptom B are the same symptom.){record_delimiter}
(For question {entity_index_delimiter}2{entity_index_delimiter}, {resolution_result_delimiter}Yes{resolution_result_delimiter}, symptom A and symptom B are the same symptom.){record_delimiter}
(For question {entity_index_delimiter}3{entity_index_delimiter}, {resolution_result_delimiter}No{resolution_result_delimiter}, symptom A and symptom B are different symptoms.){record_delimiter}

#############################
-Real Data-
######################
Question:{input_text}
######################
Output:
`

// BuildResolutionQuestions renders the numbered question block for one
// batch of candidate pairs of the given entity type.
func BuildResolutionQuestions(entityType string, pairs [][2]string) string {
	lines := []string{fmt.Sprintf("When determining whether two %ss are the same, you should only focus on critical properties and overlook noisy factors.\n", entityType)}
	for i, p := range pairs {
		lines = append(lines, fmt.Sprintf("Question %d: name of %s A is %s ,name of %s B is %s", i+1, entityType, p[0], entityType, p[1]))
	}
	sent := "question above"
	if len(pairs) > 1 {
		sent = fmt.Sprintf("above %d questions", len(pairs))
	}
	lines = append(lines, fmt.Sprintf("\nUse domain knowledge of %ss to help understand the text and answer the %s in the format: For Question i, Yes, %s A and %s B are the same %s./No, %s A and %s B are different %ss. For Question i+1, (repeat the above procedures)",
		entityType, sent, entityType, entityType, entityType, entityType, entityType, entityType))
	return strings.Join(lines, "\n")
}

// resolveEntitiesPrompt requires entity_type and pairs ([][2]string); the
// three delimiters are optional.
func resolveEntitiesPrompt(context map[string]interface{}) ([]llm.Message, error) {
	if err := requireKeys(context, "entity_type", "pairs"); err != nil {
		return nil, err
	}
	pairs, ok := context["pairs"].([][2]string)
	if !ok {
		return nil, fmt.Errorf("prompt context: pairs must be [][2]string, got %T", context["pairs"])
	}
	vars := stringVars(context)
	vars["input_text"] = BuildResolutionQuestions(vars["entity_type"], pairs)
	for k, def := range map[string]string{
		"record_delimiter":            DefaultResolutionRecordDelimiter,
		"entity_index_delimiter":      DefaultEntityIndexDelimiter,
		"resolution_result_delimiter": DefaultResolutionResultDelimiter,
	} {
		if vars[k] == "" {
			vars[k] = def
		}
	}
	return systemThenOutput(PerformVariableReplacements(EntityResolutionTemplate, vars)), nil
}

// NewResolveEntitiesVersions creates a new ResolveEntitiesVersions instance.
func NewResolveEntitiesVersions() *ResolveEntitiesVersions {
	return &ResolveEntitiesVersions{
		ResolvePrompt: NewPromptVersion(resolveEntitiesPrompt),
	}
}
