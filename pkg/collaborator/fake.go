package collaborator

import "github.com/conarylabs/conary/pkg/hash"

// Fake is an in-memory Package used by tests in this module and by callers
// that want to drive a transaction without a real RPM/DEB/Arch/CCS parser.
// Real format parsers are out of scope for this module; they are external
// collaborators that satisfy the Package interface the same way Fake does.
type Fake struct {
	Meta           Metadata
	FilesList      []File
	DependencyList []Dependency
	ScriptletList  []Scriptlet
	ConfigFileList []ConfigFile
	ExtractedList  []ExtractedFile
	ExtractErr     error
}

// NewFake builds a Fake with meta and no files, ready for its With* methods
// to populate.
func NewFake(meta Metadata) *Fake {
	return &Fake{Meta: meta}
}

// WithFile adds a file to both the manifest (Files) and the extractable
// content (ExtractFiles), computing its digest and size from content so
// callers never have to keep the two in sync by hand.
func (f *Fake) WithFile(path string, content []byte, mode uint32) *Fake {
	digest := hash.SHA256(content).String()
	f.FilesList = append(f.FilesList, File{
		Path:   path,
		Size:   int64(len(content)),
		Mode:   mode,
		SHA256: digest,
	})
	f.ExtractedList = append(f.ExtractedList, ExtractedFile{
		Path:    path,
		Content: content,
		Mode:    mode,
		SHA256:  digest,
	})
	return f
}

// WithSymlink adds a symlink entry to the extractable content only; symlinks
// have no content digest in the manifest sense.
func (f *Fake) WithSymlink(path, target string, mode uint32) *Fake {
	f.ExtractedList = append(f.ExtractedList, ExtractedFile{
		Path:          path,
		Mode:          mode,
		IsSymlink:     true,
		SymlinkTarget: target,
	})
	return f
}

// WithDependency adds a dependency edge.
func (f *Fake) WithDependency(d Dependency) *Fake {
	f.DependencyList = append(f.DependencyList, d)
	return f
}

// WithScriptlet adds a scriptlet.
func (f *Fake) WithScriptlet(s Scriptlet) *Fake {
	f.ScriptletList = append(f.ScriptletList, s)
	return f
}

// WithConfigFile marks a path as a config file.
func (f *Fake) WithConfigFile(c ConfigFile) *Fake {
	f.ConfigFileList = append(f.ConfigFileList, c)
	return f
}

// WithExtractError makes ExtractFiles fail, for testing a collaborator's
// payload-read errors propagating through ToOperations.
func (f *Fake) WithExtractError(err error) *Fake {
	f.ExtractErr = err
	return f
}

func (f *Fake) Metadata() Metadata         { return f.Meta }
func (f *Fake) Files() []File              { return f.FilesList }
func (f *Fake) Dependencies() []Dependency { return f.DependencyList }
func (f *Fake) Scriptlets() []Scriptlet    { return f.ScriptletList }
func (f *Fake) ConfigFiles() []ConfigFile  { return f.ConfigFileList }

func (f *Fake) ExtractFiles() ([]ExtractedFile, error) {
	if f.ExtractErr != nil {
		return nil, f.ExtractErr
	}
	return f.ExtractedList, nil
}
