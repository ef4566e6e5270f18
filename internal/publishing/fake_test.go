package publishing

import (
	"context"
	"sync"
)

type apiCall struct {
	Op        string
	ContentID string
	Payload   any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	errFn func(op string) error
}

func (f *fakeAPI) record(op, contentID string, payload any) error {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Op: op, ContentID: contentID, Payload: payload})
	f.mu.Unlock()
	if f.errFn != nil {
		return f.errFn(op)
	}
	return nil
}

func (f *fakeAPI) PutContent(_ context.Context, contentID string, payload any) error {
	return f.record("put_content", contentID, payload)
}

func (f *fakeAPI) Publish(_ context.Context, contentID, updateType string) error {
	return f.record("publish", contentID, updateType)
}

func (f *fakeAPI) PatchLinks(_ context.Context, contentID string, payload any) error {
	return f.record("patch_links", contentID, payload)
}

func (f *fakeAPI) PutLinks(_ context.Context, contentID string, payload any) error {
	return f.record("put_links", contentID, payload)
}

func (f *fakeAPI) Unpublish(_ context.Context, contentID string, req UnpublishRequest) error {
	return f.record("unpublish", contentID, req)
}

func (f *fakeAPI) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		ops = append(ops, c.Op)
	}
	return ops
}
