package content

import (
	"fmt"

	"github.com/prn-tf/knitstore/internal/domain"
)

// Factory exposes metadata and byte views of one stored version without
// forcing the caller to materialise every representation.
type Factory interface {
	Key() domain.Key
	Parents() []domain.Key
	StorageKind() domain.StorageKind
	SHA1() string
	Size() int64

	// GetBytesAs returns the requested view. kind must be one of
	// fulltext, chunked, lines, or the factory's own native StorageKind.
	GetBytesAs(kind domain.StorageKind) (any, error)
}

// BaseFactory is the common metadata carried by every concrete factory;
// embed it and implement GetBytesAs.
type BaseFactory struct {
	KeyVal     domain.Key
	ParentsVal []domain.Key
	Kind       domain.StorageKind
	SHA1Val    string
	SizeVal    int64
}

func (f *BaseFactory) Key() domain.Key                 { return f.KeyVal }
func (f *BaseFactory) Parents() []domain.Key           { return f.ParentsVal }
func (f *BaseFactory) StorageKind() domain.StorageKind { return f.Kind }
func (f *BaseFactory) SHA1() string                    { return f.SHA1Val }
func (f *BaseFactory) Size() int64                     { return f.SizeVal }

// FulltextFactory wraps a fully reconstructed Content. GetBytesAs always
// succeeds for fulltext/chunked/lines/its own kind.
type FulltextFactory struct {
	BaseFactory
	Content *Content
}

func (f *FulltextFactory) GetBytesAs(kind domain.StorageKind) (any, error) {
	switch kind {
	case domain.KindFulltext, f.Kind:
		return f.Content.Fulltext(), nil
	case domain.KindChunked:
		return f.Content.Text(), nil
	case domain.KindLines:
		return f.Content.Text(), nil
	default:
		return nil, &domain.UnavailableRepresentationError{Key: f.KeyVal, Wanted: string(kind), Native: string(f.Kind)}
	}
}

// AbsentFactory is returned for any requested key not present anywhere.
// GetBytesAs always fails; stream-level absence is not an error
// until the caller demands a fulltext.
type AbsentFactory struct {
	KeyVal domain.Key
}

func (f *AbsentFactory) Key() domain.Key                 { return f.KeyVal }
func (f *AbsentFactory) Parents() []domain.Key           { return nil }
func (f *AbsentFactory) StorageKind() domain.StorageKind { return domain.KindAbsent }
func (f *AbsentFactory) SHA1() string                    { return "" }
func (f *AbsentFactory) Size() int64                     { return -1 }

func (f *AbsentFactory) GetBytesAs(kind domain.StorageKind) (any, error) {
	return nil, &domain.MissingRevisionError{Key: f.KeyVal}
}

var (
	_ Factory = (*FulltextFactory)(nil)
	_ Factory = (*AbsentFactory)(nil)
)

// RawFactory exposes a record's undecoded on-disk payload alongside enough
// metadata to parse and, if it is a delta, resolve its chain. Used by
// get_record_stream-style consumers and the delta-closure wire format.
type RawFactory struct {
	BaseFactory
	CompressionParent domain.Key // nil for fulltext
	NoEOL             bool
	Raw               []byte
}

func (f *RawFactory) GetBytesAs(kind domain.StorageKind) (any, error) {
	if kind == f.Kind {
		return f.Raw, nil
	}
	return nil, &domain.UnavailableRepresentationError{Key: f.KeyVal, Wanted: string(kind), Native: string(f.Kind)}
}

var _ Factory = (*RawFactory)(nil)

// String renders a factory for debugging/log messages.
func String(f Factory) string {
	return fmt.Sprintf("Factory{key=%s kind=%s}", f.Key(), f.StorageKind())
}
