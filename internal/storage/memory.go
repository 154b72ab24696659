package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/DCspare/StreamVault/internal/model"
)

// memoryStore implements Store using an in-memory map. It is intended for
// development and conformance testing, not production use.
type memoryStore struct {
	mu    sync.RWMutex
	files map[string]*model.ArchivedFile // key: "channelID:msgID"
}

// NewMemory creates an in-memory Store implementation.
func NewMemory() Store {
	return &memoryStore{
		files: make(map[string]*model.ArchivedFile),
	}
}

func fileKey(channelID, msgID int64) string {
	return fmt.Sprintf("%d:%d", channelID, msgID)
}

// PutFile upserts by (channel_id, msg_id): a second call for the same
// key replaces the stored record instead of failing, so re-ingesting a
// message (e.g. a retried forward) never duplicates it.
func (m *memoryStore) PutFile(ctx context.Context, f model.ArchivedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fileKey(f.ChannelID, f.MsgID)
	stored := f
	m.files[key] = &stored
	return nil
}

func (m *memoryStore) GetByMsgID(ctx context.Context, channelID, msgID int64) (*model.ArchivedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, exists := m.files[fileKey(channelID, msgID)]
	if !exists {
		return nil, ErrNotFound
	}
	copyF := *f
	return &copyF, nil
}

func (m *memoryStore) ListByUser(ctx context.Context, query ListQuery) (*model.ListPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []model.ArchivedFile
	for _, f := range m.files {
		if f.UploadedBy == query.UploadedBy && f.IsActive {
			matched = append(matched, *f)
		}
	}
	return paginate(matched, query)
}

func (m *memoryStore) Search(ctx context.Context, query ListQuery) (*model.ListPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query.Query)
	var matched []model.ArchivedFile
	for _, f := range m.files {
		if !f.IsActive {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(f.DisplayName), needle) {
			matched = append(matched, *f)
		}
	}
	return paginate(matched, query)
}

func (m *memoryStore) SoftDelete(ctx context.Context, channelID, msgID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.files[fileKey(channelID, msgID)]
	if !exists {
		return ErrNotFound
	}
	f.IsActive = false
	return nil
}

func (m *memoryStore) UpdateMetadata(ctx context.Context, channelID, msgID int64, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.files[fileKey(channelID, msgID)]
	if !exists {
		return ErrNotFound
	}
	f.Metadata = metadata
	return nil
}

func paginate(files []model.ArchivedFile, query ListQuery) (*model.ListPage, error) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].MsgID > files[j].MsgID
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})

	limit := clampLimit(query.Limit)
	pageNum := clampPage(query.Page)
	offset := (pageNum - 1) * limit

	page := &model.ListPage{Page: pageNum, PerPage: limit}
	if offset >= len(files) {
		page.Files = []model.ArchivedFile{}
		return page, nil
	}

	end := offset + limit
	if end >= len(files) {
		page.Files = files[offset:]
	} else {
		page.Files = files[offset:end]
		page.HasMore = true
	}
	return page, nil
}
