package prompts

import (
	"github.com/soundprediction/go-vetgraph/pkg/llm"
)

// CommunityReportPrompt defines the interface for community report prompts.
type CommunityReportPrompt interface {
	Report() PromptVersion
}

// CommunityReportVersions holds all versions of community report prompts.
type CommunityReportVersions struct {
	ReportPrompt PromptVersion
}

func (c *CommunityReportVersions) Report() PromptVersion { return c.ReportPrompt }

// CommunityReportTemplate asks for a JSON report over the CSV tables of one community.
const CommunityReportTemplate = `
You are an AI assistant that helps a veterinarian to perform general information discovery. Information discovery is the process of identifying and assessing relevant information associated with certain entities (e.g., diseases, symptoms, medications) within a network.

# Goal
Write a comprehensive report of a community, given a list of entities that belong to the community as well as their relationships. The report will be used to inform decision-makers about information associated with the community and their potential clinical impact. The content of this report includes an overview of the community's key entities, their clinical relevance, and noteworthy claims.

# Report Structure

The report should include the following sections:

- TITLE: community's name that represents its key entities - title should be short but specific. When possible, include representative named entities in the title.
- SUMMARY: An executive summary of the community's overall structure, how its entities are related to each other, and significant information associated with its entities.
- IMPACT SEVERITY RATING: a float score between 0-10 that represents the severity of IMPACT posed by entities within the community. IMPACT is the scored importance of a community.
- RATING EXPLANATION: Give a single sentence explanation of the IMPACT severity rating.
- DETAILED FINDINGS: A list of 5-10 key insights about the community. Each insight should have a short summary followed by multiple paragraphs of explanatory text grounded according to the grounding rules below. Be comprehensive.

Return output as a well-formed JSON-formatted string with the following format:
    {
        "title": <report_title>,
        "summary": <executive_summary>,
        "rating": <impact_severity_rating>,
        "rating_explanation": <rating_explanation>,
        "findings": [
            {
                "summary":<insight_1_summary>,
                "explanation": <insight_1_explanation>
            },
            {
                "summary":<insight_2_summary>,
                "explanation": <insight_2_explanation>
            }
        ]
    }

# Grounding Rules

Points supported by data should list their data references as follows:

"This is an example sentence supported by multiple data references [Data: <dataset name> (record ids); <dataset name> (record ids)]."

Do not list more than 5 record ids in a single reference. Instead, list the top 5 most relevant record ids and add "+more" to indicate that there are more.

Do not include information where the supporting evidence for it is not provided.

# Real Data

Use the following text for your answer. Do not make anything up in your answer.

Text:
-Entities-
{entity_df}

-Relationships-
{relation_df}

The report should include the following sections:

- TITLE: community's name that represents its key entities - title should be short but specific.
- SUMMARY: An executive summary of the community's overall structure.
- IMPACT SEVERITY RATING: a float score between 0-10.
- RATING EXPLANATION: Give a single sentence explanation of the IMPACT severity rating.
- DETAILED FINDINGS: A list of 5-10 key insights about the community.

Output:`

// communityReportPrompt requires entity_df and relation_df CSV strings.
func communityReportPrompt(context map[string]interface{}) ([]llm.Message, error) {
	if err := requireKeys(context, "entity_df", "relation_df"); err != nil {
		return nil, err
	}
	return systemThenOutput(PerformVariableReplacements(CommunityReportTemplate, stringVars(context))), nil
}

// NewCommunityReportVersions creates a new CommunityReportVersions instance.
func NewCommunityReportVersions() *CommunityReportVersions {
	return &CommunityReportVersions{
		ReportPrompt: NewPromptVersion(communityReportPrompt),
	}
}
