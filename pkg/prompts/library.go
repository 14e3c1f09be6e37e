package prompts

// Library defines the interface for the complete prompt library.
type Library interface {
	ExtractGraph() ExtractGraphPrompt
	ResolveEntities() ResolveEntitiesPrompt
	CommunityReport() CommunityReportPrompt
}

// LibraryImpl implements the Library interface.
type LibraryImpl struct {
	extractGraph    ExtractGraphPrompt
	resolveEntities ResolveEntitiesPrompt
	communityReport CommunityReportPrompt
}

func (l *LibraryImpl) ExtractGraph() ExtractGraphPrompt       { return l.extractGraph }
func (l *LibraryImpl) ResolveEntities() ResolveEntitiesPrompt { return l.resolveEntities }
func (l *LibraryImpl) CommunityReport() CommunityReportPrompt { return l.communityReport }

// NewLibrary creates a new prompt library instance.
func NewLibrary() Library {
	return &LibraryImpl{
		extractGraph:    NewExtractGraphVersions(),
		resolveEntities: NewResolveEntitiesVersions(),
		communityReport: NewCommunityReportVersions(),
	}
}

// DefaultLibrary is the default prompt library instance.
var DefaultLibrary = NewLibrary()
