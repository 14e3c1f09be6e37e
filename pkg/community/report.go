package community

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/prompts"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// Mode selects how model calls are made.
type Mode string

const (
	ModeOnline Mode = "online"
	ModeBatch  Mode = "batch"
)

// DefaultMaxReportLength caps the rendered report in tokens.
const DefaultMaxReportLength = 1500

// ErrorHandler receives failures of best-effort units.
type ErrorHandler func(err error, unit string, data map[string]any)

// Options configures a Reporter.
type Options struct {
	Mode            Mode
	Workers         int
	MaxReportLength int
	MaxRetries      int
	RetryInterval   time.Duration
}

func (o *Options) setDefaults() {
	if o.Mode == "" {
		o.Mode = ModeOnline
	}
	if o.Workers <= 0 {
		o.Workers = utils.GetSemaphoreLimit()
	}
	if o.MaxReportLength <= 0 {
		o.MaxReportLength = DefaultMaxReportLength
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 1
	}
}

// Finding is one insight of a report.
type Finding struct {
	Summary     string `json:"summary"`
	Explanation string `json:"explanation"`
}

// Report is a validated community report.
type Report struct {
	ID                string    `json:"id"`
	Level             int       `json:"level"`
	Title             string    `json:"title"`
	Summary           string    `json:"summary"`
	Findings          []Finding `json:"findings"`
	Rating            float64   `json:"rating"`
	RatingExplanation string    `json:"rating_explanation"`
	Weight            float64   `json:"weight"`
	Entities          []string  `json:"entities"`
}

// Text renders the report as markdown.
func (r *Report) Text() string {
	sections := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", f.Summary, f.Explanation))
	}
	return fmt.Sprintf("# %s\n\n%s\n\n%s", r.Title, r.Summary, strings.Join(sections, "\n\n"))
}

// Result is the outcome of one Generate call, reports in community order.
type Result struct {
	Reports    []*Report
	Texts      []string
	TokenCount int
}

// Reporter writes community reports.
type Reporter struct {
	llm      llm.Client
	batch    llm.BatchRunner
	prompts  prompts.Library
	counter  utils.TokenCounter
	detector *Detector
	logger   *slog.Logger
	onError  ErrorHandler
	opts     Options
}

// Option configures optional collaborators.
type Option func(*Reporter)

func WithBatchRunner(b llm.BatchRunner) Option { return func(r *Reporter) { r.batch = b } }
func WithLogger(l *slog.Logger) Option { return func(r *Reporter) { r.logger = l } }
func WithErrorHandler(h ErrorHandler) Option { return func(r *Reporter) { r.onError = h } }
func WithPrompts(p prompts.Library) Option { return func(r *Reporter) { r.prompts = p } }
func WithTokenCounter(c utils.TokenCounter) Option { return func(r *Reporter) { r.counter = c } }
func WithDetector(d *Detector) Option { return func(r *Reporter) { r.detector = d } }

// NewReporter creates a Reporter.
func NewReporter(client llm.Client, opts Options, options ...Option) *Reporter {
	opts.setDefaults()
	r := &Reporter{
		llm:      client,
		prompts:  prompts.DefaultLibrary,
		detector: &Detector{},
		opts:     opts,
	}
	for _, o := range options {
		o(r)
	}
	if r.counter == nil {
		r.counter = utils.DefaultTokenCounter()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.onError == nil {
		r.onError = func(error, string, map[string]any) {}
	}
	return r
}

// Messages builds the prompt for one community of g.
func (r *Reporter) Messages(g *graph.Graph, c *Community) ([]llm.Message, error) {
	members := make(map[string]struct{}, len(c.Members))
	entityRows := make([][]string, 0, len(c.Members))
	for _, id := range c.Members {
		members[id] = struct{}{}
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		entityRows = append(entityRows, []string{
			n.ID, n.EntityType, n.Description,
			strconv.Itoa(n.Weight), strconv.Itoa(n.Rank),
		})
	}
	var relationRows [][]string
	for _, e := range g.Edges() {
		_, s := members[e.Source]
		_, t := members[e.Target]
		if !s && !t {
			continue
		}
		relationRows = append(relationRows, []string{
			e.Source, e.Target, e.Description,
			strconv.FormatFloat(e.Weight, 'f', -1, 64),
		})
	}
	entityDF, err := prompts.ToPromptCSV([]string{"entity", "entity_type", "description", "weight", "rank"}, entityRows)
	if err != nil {
		return nil, err
	}
	relationDF, err := prompts.ToPromptCSV([]string{"source", "target", "description", "weight"}, relationRows)
	if err != nil {
		return nil, err
	}
	return r.prompts.CommunityReport().Report().Call(map[string]interface{}{
		"entity_df":   entityDF,
		"relation_df": relationDF,
	})
}

// Generate detects the communities of g and writes a report for each. Member
// nodes of a reported community gain its title. Failed or malformed reports
// are logged and skipped.
func (r *Reporter) Generate(ctx context.Context, g *graph.Graph) (*Result, error) {
	communities := r.detector.Detect(g).All()
	r.logger.Info("community reports", "communities", len(communities), "mode", r.opts.Mode)

	requests := make(map[string][]llm.Message, len(communities))
	for _, c := range communities {
		msgs, err := r.Messages(g, c)
		if err != nil {
			return nil, fmt.Errorf("community %s prompt: %w", c.ID, err)
		}
		requests[c.ID] = msgs
	}

	var (
		responses map[string]string
		tokens    int
		err       error
	)
	if r.opts.Mode == ModeBatch {
		responses, err = r.runBatch(ctx, requests)
	} else {
		responses, tokens, err = r.runOnline(ctx, communities, requests)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{TokenCount: tokens}
	for _, c := range communities {
		response, ok := responses[c.ID]
		if !ok {
			continue
		}
		report, err := ParseReport(response)
		if err != nil {
			r.logger.Warn("community report rejected", "community", c.ID, "error", err)
			continue
		}
		report.ID = c.ID
		report.Level = c.Level
		report.Weight = c.Weight
		report.Entities = c.Members
		for _, id := range c.Members {
			if n, ok := g.Node(id); ok {
				n.AddCommunity(report.Title)
			}
		}
		res.Reports = append(res.Reports, report)
		res.Texts = append(res.Texts, utils.TruncateTokens(r.counter, report.Text(), r.opts.MaxReportLength))
	}
	return res, nil
}

func (r *Reporter) runOnline(ctx context.Context, communities []*Community, requests map[string][]llm.Message) (map[string]string, int, error) {
	var (
		mu        sync.Mutex
		responses = make(map[string]string, len(communities))
		tokens    int
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.Workers)
	for _, c := range communities {
		msgs := requests[c.ID]
		eg.Go(func() error {
			response, err := llm.ChatWithRetry(egctx, r.llm, msgs, r.opts.MaxRetries, r.opts.RetryInterval)
			if err != nil {
				if egctx.Err() != nil {
					return egctx.Err()
				}
				r.logger.Error("community report failed", "community", c.ID, "error", err)
				r.onError(err, "community_report", map[string]any{"community": c.ID})
				return nil
			}
			n := r.counter.Count(msgs[0].Content + response)
			mu.Lock()
			responses[c.ID] = response
			tokens += n
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}
	return responses, tokens, nil
}

func (r *Reporter) runBatch(ctx context.Context, requests map[string][]llm.Message) (map[string]string, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	if r.batch == nil {
		return nil, fmt.Errorf("batch mode requires a batch runner")
	}
	out, err := r.batch.RunBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("community report batch: %w", err)
	}
	responses := make(map[string]string, len(out.Responses))
	for id, response := range out.Responses {
		if err := llm.CheckSentinel(response); err != nil {
			r.onError(err, "community_report", map[string]any{"community": id})
			continue
		}
		responses[id] = response
	}
	for _, id := range out.Missing {
		r.onError(fmt.Errorf("no batch response for %s", id), "community_report", map[string]any{"community": id})
	}
	return responses, nil
}

// ParseReport cleans a model answer and validates it field by field.
func ParseReport(response string) (*Report, error) {
	cleaned := sanitizeReport(response)
	if cleaned == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var raw map[string]any
	if err := llm.DecodeJSONResponse(cleaned, &raw); err != nil {
		return nil, err
	}
	title, ok := raw["title"].(string)
	if !ok {
		return nil, fmt.Errorf("field title: want string")
	}
	summary, ok := raw["summary"].(string)
	if !ok {
		return nil, fmt.Errorf("field summary: want string")
	}
	rawFindings, ok := raw["findings"].([]any)
	if !ok {
		return nil, fmt.Errorf("field findings: want list")
	}
	rating, ok := raw["rating"].(float64)
	if !ok {
		return nil, fmt.Errorf("field rating: want number")
	}
	explanation, ok := raw["rating_explanation"].(string)
	if !ok {
		return nil, fmt.Errorf("field rating_explanation: want string")
	}
	report := &Report{
		Title:             title,
		Summary:           summary,
		Rating:            rating,
		RatingExplanation: explanation,
		Findings:          make([]Finding, 0, len(rawFindings)),
	}
	for _, f := range rawFindings {
		switch v := f.(type) {
		case string:
			report.Findings = append(report.Findings, Finding{Summary: v})
		case map[string]any:
			s, _ := v["summary"].(string)
			e, _ := v["explanation"].(string)
			report.Findings = append(report.Findings, Finding{Summary: s, Explanation: e})
		}
	}
	return report, nil
}

// sanitizeReport keeps the outermost braces, drops newlines not adjacent to a
// quote and unescapes \'.
func sanitizeReport(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	s = s[start : end+1]
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			prevQuote := i > 0 && s[i-1] == '"'
			nextQuote := i+1 < len(s) && s[i+1] == '"'
			if !prevQuote && !nextQuote {
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return strings.ReplaceAll(b.String(), `\'`, "'")
}
