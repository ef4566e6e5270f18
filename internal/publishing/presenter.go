package publishing

import "servicemanual/api/internal/store"

const (
	publishingApp = "service-manual-publisher"
	renderingApp  = "service-manual-frontend"
	locale        = "en"

	guideDocumentType = "service_manual_guide"
	topicDocumentType = "service_manual_topic"
)

type Content struct {
	BasePath      string  `json:"base_path"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	DocumentType  string  `json:"document_type"`
	SchemaName    string  `json:"schema_name"`
	Locale        string  `json:"locale"`
	Phase         string  `json:"phase"`
	PublishingApp string  `json:"publishing_app"`
	RenderingApp  string  `json:"rendering_app"`
	Routes        []Route `json:"routes"`
	UpdateType    string  `json:"update_type,omitempty"`
	Details       any     `json:"details"`
}

type Route struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type GuideDetails struct {
	Body              string             `json:"body"`
	ChangeNote        string             `json:"change_note,omitempty"`
	ChangeSummary     string             `json:"change_summary,omitempty"`
	RelatedDiscussion *RelatedDiscussion `json:"related_discussion,omitempty"`
	ContentOwner      *ContentOwner      `json:"content_owner,omitempty"`
}

type RelatedDiscussion struct {
	Title    string `json:"title"`
	Location string `json:"location"`
}

type ContentOwner struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

type TopicDetails struct {
	Groups []TopicGroup `json:"groups"`
}

type TopicGroup struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ContentIDs  []string `json:"content_ids"`
}

// Links is the body of a links request.
type Links struct {
	Links map[string][]string `json:"links"`
}

// GuideContent builds the draft payload for a guide edition.
func GuideContent(s GuideSnapshot) Content {
	details := GuideDetails{
		Body:          s.Edition.Body,
		ChangeNote:    s.Edition.ChangeNote,
		ChangeSummary: s.Edition.ChangeSummary,
	}
	if s.Edition.RelatedDiscussionHref != "" {
		details.RelatedDiscussion = &RelatedDiscussion{
			Title:    s.Edition.RelatedDiscussionTitle,
			Location: s.Edition.RelatedDiscussionHref,
		}
	}
	if s.ContentOwner != nil {
		details.ContentOwner = &ContentOwner{Title: s.ContentOwner.Title, Href: s.ContentOwner.Slug}
	}

	return Content{
		BasePath:      s.Guide.Slug,
		Title:         s.Edition.Title,
		Description:   s.Edition.Description,
		DocumentType:  guideDocumentType,
		SchemaName:    guideDocumentType,
		Locale:        locale,
		Phase:         s.Edition.Phase,
		PublishingApp: publishingApp,
		RenderingApp:  renderingApp,
		Routes:        []Route{{Path: s.Guide.Slug, Type: "exact"}},
		UpdateType:    s.Edition.UpdateType,
		Details:       details,
	}
}

// GuideLinks links a guide to its content owner and its topic.
func GuideLinks(s GuideSnapshot) Links {
	links := map[string][]string{
		"content_owners": {},
		"parent":         {},
	}
	if s.ContentOwner != nil && s.ContentOwner.ContentID != "" {
		links["content_owners"] = []string{s.ContentOwner.ContentID}
	}
	if s.Topic != nil {
		links["parent"] = []string{s.Topic.ContentID}
	}
	return Links{Links: links}
}

func TopicContent(s TopicSnapshot) Content {
	groups := make([]TopicGroup, 0, len(s.Sections))
	for _, section := range s.Sections {
		ids := section.GuideContentIDs
		if ids == nil {
			ids = []string{}
		}
		groups = append(groups, TopicGroup{
			Name:        section.Section.Title,
			Description: section.Section.Description,
			ContentIDs:  ids,
		})
	}

	return Content{
		BasePath:      s.Topic.Path,
		Title:         s.Topic.Title,
		Description:   s.Topic.Description,
		DocumentType:  topicDocumentType,
		SchemaName:    topicDocumentType,
		Locale:        locale,
		Phase:         "beta",
		PublishingApp: publishingApp,
		RenderingApp:  renderingApp,
		Routes:        []Route{{Path: s.Topic.Path, Type: "exact"}},
		UpdateType:    store.UpdateTypeMinor,
		Details:       TopicDetails{Groups: groups},
	}
}

// TopicLinks lists every guide in the topic, section by section.
func TopicLinks(s TopicSnapshot) Links {
	items := []string{}
	for _, section := range s.Sections {
		items = append(items, section.GuideContentIDs...)
	}
	return Links{Links: map[string][]string{"linked_items": items}}
}
