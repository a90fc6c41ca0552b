package txn

import (
	"context"
	"os"

	"github.com/conarylabs/conary/pkg/cas"
	"github.com/conarylabs/conary/pkg/storage"
	"github.com/conarylabs/conary/pkg/vfs"
)

// liveProbe implements vfs.FileProbe against the real filesystem under root
// and the metadata store, the live counterpart to the fakes pkg/vfs's own
// tests use.
type liveProbe struct {
	ctx   context.Context
	root  string
	store storage.Store
	cas   *cas.Store
}

func newLiveProbe(ctx context.Context, root string, store storage.Store, objects *cas.Store) *liveProbe {
	return &liveProbe{ctx: ctx, root: root, store: store, cas: objects}
}

func (p *liveProbe) Exists(path string) bool {
	target, err := safeJoin(p.root, path)
	if err != nil {
		return false
	}
	_, err = os.Lstat(target)
	return err == nil
}

func (p *liveProbe) Tracked(path string) (vfs.ExistingFile, bool) {
	f, err := p.store.GetFileByPath(p.ctx, path)
	if err != nil || f == nil {
		return vfs.ExistingFile{}, false
	}
	troveName := ""
	if trove, err := p.store.GetTrove(p.ctx, f.TroveID); err == nil && trove != nil {
		troveName = trove.Name
	}
	return vfs.ExistingFile{TroveName: troveName, Hash: f.SHA256Hash, Mode: f.Permissions, Size: f.Size}, true
}

func (p *liveProbe) Digest(content []byte) string {
	return p.cas.ComputeHash(content)
}

func (p *liveProbe) SymlinkDigest(target string) string {
	return p.cas.ComputeSymlinkHash(target)
}
