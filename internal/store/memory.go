package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

type memoryState struct {
	users      map[string]User
	guides     map[string]Guide
	editions   map[string]Edition
	editionSeq map[string]int64
	topics     map[string]Topic
	sections   map[string]TopicSection
	links      map[string]TopicSectionGuide // keyed by guide id
	seq        int64
}

func newMemoryState() memoryState {
	return memoryState{
		users:      map[string]User{},
		guides:     map[string]Guide{},
		editions:   map[string]Edition{},
		editionSeq: map[string]int64{},
		topics:     map[string]Topic{},
		sections:   map[string]TopicSection{},
		links:      map[string]TopicSectionGuide{},
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		users:      make(map[string]User, len(s.users)),
		guides:     make(map[string]Guide, len(s.guides)),
		editions:   make(map[string]Edition, len(s.editions)),
		editionSeq: make(map[string]int64, len(s.editionSeq)),
		topics:     make(map[string]Topic, len(s.topics)),
		sections:   make(map[string]TopicSection, len(s.sections)),
		links:      make(map[string]TopicSectionGuide, len(s.links)),
		seq:        s.seq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.guides {
		c.guides[k] = v
	}
	for k, v := range s.editions {
		c.editions[k] = v
	}
	for k, v := range s.editionSeq {
		c.editionSeq[k] = v
	}
	for k, v := range s.topics {
		c.topics[k] = v
	}
	for k, v := range s.sections {
		c.sections[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	return c
}

// MemoryStore is an in-process Repository. Transactions run on a copy of the
// state that replaces the original on commit, so a failed transaction leaves
// no trace. Transactions are serialized.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
	tx    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Repository) error) error {
	if s.tx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &MemoryStore{state: s.state.clone(), tx: true}
	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.state = view.state
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.state.users[userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) GetGuide(_ context.Context, guideID string) (Guide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guide, ok := s.state.guides[guideID]
	if !ok {
		return Guide{}, sql.ErrNoRows
	}
	return guide, nil
}

func (s *MemoryStore) LockGuide(ctx context.Context, guideID string) (Guide, error) {
	return s.GetGuide(ctx, guideID)
}

func (s *MemoryStore) GetGuideBySlug(_ context.Context, slug string) (Guide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, guide := range s.state.guides {
		if guide.Slug == slug {
			return guide, nil
		}
	}
	return Guide{}, sql.ErrNoRows
}

func (s *MemoryStore) InsertGuide(_ context.Context, guide Guide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.guides[guide.ID]; exists {
		return fmt.Errorf("insert guide: %w: guides_pkey", ErrConflict)
	}
	for _, other := range s.state.guides {
		if other.Slug == guide.Slug {
			return fmt.Errorf("insert guide: %w: guides_slug_idx", ErrConflict)
		}
		if other.ContentID == guide.ContentID {
			return fmt.Errorf("insert guide: %w: guides_content_id_key", ErrConflict)
		}
	}
	s.state.guides[guide.ID] = guide
	return nil
}

func (s *MemoryStore) UpdateGuide(_ context.Context, guide Guide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.guides[guide.ID]
	if !ok {
		return sql.ErrNoRows
	}
	for id, other := range s.state.guides {
		if id != guide.ID && other.Slug == guide.Slug {
			return fmt.Errorf("update guide: %w: guides_slug_idx", ErrConflict)
		}
	}
	current.Slug = guide.Slug
	current.Type = guide.Type
	current.UpdatedAt = guide.UpdatedAt
	s.state.guides[guide.ID] = current
	return nil
}

func (s *MemoryStore) DeleteGuide(_ context.Context, guideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.guides, guideID)
	delete(s.state.links, guideID)
	for id, edition := range s.state.editions {
		if edition.GuideID == guideID {
			delete(s.state.editions, id)
			delete(s.state.editionSeq, id)
			continue
		}
		if edition.ContentOwnerID == guideID {
			edition.ContentOwnerID = ""
			s.state.editions[id] = edition
		}
	}
	return nil
}

func (s *MemoryStore) ListGuides(_ context.Context, filter GuideFilter) ([]Guide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	editionFilter := filter.AuthorID != "" || filter.State != "" || filter.ContentOwnerID != ""
	var guides []Guide
	for _, guide := range s.state.guides {
		if filter.Type != "" && guide.Type != filter.Type {
			continue
		}
		matched, published := !editionFilter, false
		for _, edition := range s.state.editions {
			if edition.GuideID != guide.ID {
				continue
			}
			if edition.State == StatePublished {
				published = true
			}
			if editionFilter &&
				(filter.AuthorID == "" || edition.AuthorID == filter.AuthorID) &&
				(filter.State == "" || edition.State == filter.State) &&
				(filter.ContentOwnerID == "" || edition.ContentOwnerID == filter.ContentOwnerID) {
				matched = true
			}
		}
		if !matched || (filter.PublishedOnly && !published) {
			continue
		}
		guides = append(guides, guide)
	}
	sort.Slice(guides, func(i, j int) bool {
		if !guides[i].UpdatedAt.Equal(guides[j].UpdatedAt) {
			return guides[i].UpdatedAt.After(guides[j].UpdatedAt)
		}
		return guides[i].ID < guides[j].ID
	})
	return guides, nil
}

func (s *MemoryStore) CountGuides(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.guides), nil
}

func (s *MemoryStore) GetEdition(_ context.Context, editionID string) (Edition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edition, ok := s.state.editions[editionID]
	if !ok {
		return Edition{}, sql.ErrNoRows
	}
	return edition, nil
}

func (s *MemoryStore) GetPublishedEdition(ctx context.Context, editionID string) (Edition, error) {
	edition, err := s.GetEdition(ctx, editionID)
	if err != nil {
		return Edition{}, err
	}
	if edition.State != StatePublished {
		return Edition{}, sql.ErrNoRows
	}
	return edition, nil
}

func (s *MemoryStore) ListEditions(_ context.Context, guideID string) ([]Edition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var editions []Edition
	for _, edition := range s.state.editions {
		if edition.GuideID == guideID {
			editions = append(editions, edition)
		}
	}
	sort.Slice(editions, func(i, j int) bool {
		a, b := editions[i], editions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return s.state.editionSeq[a.ID] < s.state.editionSeq[b.ID]
	})
	return editions, nil
}

func (s *MemoryStore) versionTaken(edition Edition) bool {
	for id, other := range s.state.editions {
		if id != edition.ID && other.GuideID == edition.GuideID && other.Version == edition.Version {
			return true
		}
	}
	return false
}

func (s *MemoryStore) InsertEdition(_ context.Context, edition Edition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.guides[edition.GuideID]; !ok {
		return fmt.Errorf("insert edition: guide %s does not exist", edition.GuideID)
	}
	if _, exists := s.state.editions[edition.ID]; exists {
		return fmt.Errorf("insert edition: %w: editions_pkey", ErrConflict)
	}
	if s.versionTaken(edition) {
		return fmt.Errorf("insert edition: %w: editions_guide_version_idx", ErrConflict)
	}
	s.state.seq++
	s.state.editions[edition.ID] = edition
	s.state.editionSeq[edition.ID] = s.state.seq
	return nil
}

func (s *MemoryStore) UpdateEdition(_ context.Context, edition Edition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.editions[edition.ID]
	if !ok {
		return sql.ErrNoRows
	}
	edition.GuideID = current.GuideID
	edition.CreatedAt = current.CreatedAt
	if s.versionTaken(edition) {
		return fmt.Errorf("update edition: %w: editions_guide_version_idx", ErrConflict)
	}
	s.state.editions[edition.ID] = edition
	return nil
}

func (s *MemoryStore) DeleteEdition(_ context.Context, editionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.editions, editionID)
	delete(s.state.editionSeq, editionID)
	return nil
}

func (s *MemoryStore) CountEditions(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.editions), nil
}

func (s *MemoryStore) GetTopic(_ context.Context, topicID string) (Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.state.topics[topicID]
	if !ok {
		return Topic{}, sql.ErrNoRows
	}
	return topic, nil
}

func (s *MemoryStore) InsertTopic(_ context.Context, topic Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.state.topics {
		if other.ID == topic.ID || other.Path == topic.Path || other.ContentID == topic.ContentID {
			return fmt.Errorf("insert topic: %w", ErrConflict)
		}
	}
	s.state.topics[topic.ID] = topic
	return nil
}

func (s *MemoryStore) GetTopicSection(_ context.Context, sectionID string) (TopicSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section, ok := s.state.sections[sectionID]
	if !ok {
		return TopicSection{}, sql.ErrNoRows
	}
	return section, nil
}

func (s *MemoryStore) InsertTopicSection(_ context.Context, section TopicSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.topics[section.TopicID]; !ok {
		return fmt.Errorf("insert topic section: topic %s does not exist", section.TopicID)
	}
	if _, exists := s.state.sections[section.ID]; exists {
		return fmt.Errorf("insert topic section: %w", ErrConflict)
	}
	s.state.sections[section.ID] = section
	return nil
}

func (s *MemoryStore) ListTopicSections(_ context.Context, topicID string) ([]TopicSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sections []TopicSection
	for _, section := range s.state.sections {
		if section.TopicID == topicID {
			sections = append(sections, section)
		}
	}
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].Position != sections[j].Position {
			return sections[i].Position < sections[j].Position
		}
		return sections[i].ID < sections[j].ID
	})
	return sections, nil
}

func (s *MemoryStore) GetGuideTopicSection(_ context.Context, guideID string) (TopicSectionGuide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.state.links[guideID]
	if !ok {
		return TopicSectionGuide{}, sql.ErrNoRows
	}
	return link, nil
}

func (s *MemoryStore) AssignGuideTopicSection(_ context.Context, link TopicSectionGuide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.sections[link.TopicSectionID]; !ok {
		return fmt.Errorf("assign topic section: section %s does not exist", link.TopicSectionID)
	}
	if _, ok := s.state.guides[link.GuideID]; !ok {
		return fmt.Errorf("assign topic section: guide %s does not exist", link.GuideID)
	}
	if current, ok := s.state.links[link.GuideID]; ok && current.TopicSectionID == link.TopicSectionID {
		return nil
	}
	s.state.links[link.GuideID] = link
	return nil
}

func (s *MemoryStore) RemoveGuideTopicSection(_ context.Context, guideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.links, guideID)
	return nil
}

func (s *MemoryStore) ListSectionGuides(_ context.Context, sectionID string) ([]Guide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var links []TopicSectionGuide
	for _, link := range s.state.links {
		if link.TopicSectionID == sectionID {
			links = append(links, link)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Position != links[j].Position {
			return links[i].Position < links[j].Position
		}
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
	guides := make([]Guide, 0, len(links))
	for _, link := range links {
		guides = append(guides, s.state.guides[link.GuideID])
	}
	return guides, nil
}

func (s *MemoryStore) CountTopicSectionGuides(_ context.Context, guideID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.links[guideID]; ok {
		return 1, nil
	}
	return 0, nil
}
