// Package knit wires the content, index, data-access, delta-engine,
// record-stream, annotate and adapters layers into a single Store, the
// public entry point callers and cmd/knitctl use.
package knit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/knitstore/internal/adapters"
	"github.com/prn-tf/knitstore/internal/annotate"
	"github.com/prn-tf/knitstore/internal/config"
	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/contentcache"
	"github.com/prn-tf/knitstore/internal/contentcache/memcache"
	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/deltaengine"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/extlock"
	"github.com/prn-tf/knitstore/internal/extlock/memlock"
	"github.com/prn-tf/knitstore/internal/knitindex"
	"github.com/prn-tf/knitstore/internal/knitindex/graphindex"
	"github.com/prn-tf/knitstore/internal/knitindex/textindex"
	"github.com/prn-tf/knitstore/internal/metrics"
	"github.com/prn-tf/knitstore/internal/missingparent"
	missingmemory "github.com/prn-tf/knitstore/internal/missingparent/memory"
	"github.com/prn-tf/knitstore/internal/record"
	"github.com/prn-tf/knitstore/internal/recordstream"
)

// defaultCacheTTL bounds how long a reconstructed fulltext stays in the
// content cache; only GetFulltext reads the cache (Annotate does not), and
// nothing here requires long-lived entries.
const defaultCacheTTL = 5 * time.Minute

// Deps bundles Store's optional external collaborators. A zero Deps gets
// an in-memory cache, a no-op lock and an in-memory missing-parent
// tracker; cmd/knitctl supplies Redis/Postgres-backed implementations
// when configured.
type Deps struct {
	Cache   contentcache.Cache
	Locker  extlock.Locker
	Tracker missingparent.Tracker
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// Fallbacks are other, already-open stores consulted whenever a key
	// is absent locally, both by the record stream and by the delta
	// engine's compression-chain walk. Declared in precedence order.
	Fallbacks []*Store
}

// Store is one knit store instance: an index, its transport, and the
// algorithmic layers built on top of them.
type Store struct {
	cfg config.StoreConfig

	index     knitindex.Index
	transport dataaccess.Transport
	engine    *deltaengine.Engine
	annotator *annotate.Annotator
	streamer  *recordstream.Streamer
	basis     basisProvider

	cache   contentcache.Cache
	locker  extlock.Locker
	tracker missingparent.Tracker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// basisProvider adapts Engine.Reconstruct to adapters.BasisProvider, whose
// single method name collides with Store's own byte-returning GetFulltext.
type basisProvider struct {
	engine *deltaengine.Engine
}

func (b basisProvider) GetFulltext(ctx context.Context, key domain.Key) (*content.Content, error) {
	return b.engine.Reconstruct(ctx, key)
}

// Open builds a Store from cfg, creating the index and transport layers if
// they do not already exist on disk.
func Open(cfg config.StoreConfig, deps Deps) (*Store, error) {
	if deps.Cache == nil {
		deps.Cache = memcache.NewCache()
	}
	if deps.Locker == nil {
		deps.Locker = memlock.NoOpLocker{}
	}
	if deps.Tracker == nil {
		deps.Tracker = missingmemory.New()
	}
	// deps.Metrics stays nil when not supplied: every observer method is
	// nil-safe, and registering a fresh promauto set per opened store would
	// collide on the default registerer once fallbacks are wired.

	transport, err := dataaccess.NewFilesystemTransport(cfg.DataDir, cfg.TempDir, nil, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("knit: open transport: %w", err)
	}

	var index knitindex.Index
	switch cfg.IndexBackend {
	case config.IndexBackendGraph:
		index, err = graphindex.Open(cfg.IndexPath)
	default:
		index, err = textindex.New(cfg.IndexPath, nil, deps.Logger)
	}
	if err != nil {
		return nil, fmt.Errorf("knit: open index: %w", err)
	}

	maxDeltaChain := cfg.MaxDeltaChain
	engineFallbacks := make([]deltaengine.Fallback, len(deps.Fallbacks))
	streamFallbacks := make([]recordstream.Store, len(deps.Fallbacks))
	for i, fb := range deps.Fallbacks {
		engineFallbacks[i] = fb
		streamFallbacks[i] = fb
	}
	engine := deltaengine.New(index, transport, maxDeltaChain, cfg.Annotated, deps.Metrics, engineFallbacks...)
	annotator := annotate.New(index, transport, cfg.Annotated)

	s := &Store{
		cfg:       cfg,
		index:     index,
		transport: transport,
		engine:    engine,
		annotator: annotator,
		basis:     basisProvider{engine: engine},
		cache:     deps.Cache,
		locker:    deps.Locker,
		tracker:   deps.Tracker,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	s.streamer = recordstream.New(s, streamFallbacks, deps.Metrics)
	return s, nil
}

// Reconstruct builds the fulltext Content for key, consulting declared
// fallback stores when key's compression chain leaves this store's own
// index. It is exported so this Store can itself serve
// as a deltaengine.Fallback for another store's engine.
func (s *Store) Reconstruct(ctx context.Context, key domain.Key) (*content.Content, error) {
	return s.engine.Reconstruct(ctx, key)
}

// InsertOptions customizes a single Insert call.
type InsertOptions struct {
	// NoStoreSHA, when non-empty, short-circuits the insert with
	// ErrExistingContent if it equals the hex SHA-1 of the joined lines,
	// without writing anything.
	NoStoreSHA string
}

// Insert stores a new version under prefix. If versionID is empty, the
// final key component is generated from the content digest ("sha1:<hex>");
// a literal versionID must not collide with that reserved prefix and must
// not contain whitespace, which the index line format cannot carry.
// parents is the version's full declared parent list; a delta is only ever
// taken against parents[0], and only when it is already present.
func (s *Store) Insert(ctx context.Context, prefix domain.Key, versionID string, parents []domain.Key, lines [][]byte, opts InsertOptions) (domain.Key, error) {
	start := time.Now()

	randomID := versionID == ""
	digest := domain.SHA1Lines(lines)

	if !randomID {
		if domain.IsReserved(versionID) {
			return nil, fmt.Errorf("knit: insert %s/%s: version id uses reserved prefix %q", prefix, versionID, domain.ReservedKeyPrefix)
		}
		if domain.HasWhitespace(versionID) {
			return nil, fmt.Errorf("knit: insert %s/%s: version id contains whitespace", prefix, versionID)
		}
	} else {
		versionID = domain.DigestKey(domain.JoinLines(lines))
	}
	key := append(append(domain.Key(nil), prefix...), versionID)

	if opts.NoStoreSHA != "" && opts.NoStoreSHA == digest {
		return key, domain.ErrExistingContent
	}

	parentDetails, err := s.index.GetBuildDetails(ctx, parents)
	if err != nil {
		return nil, fmt.Errorf("knit: insert %s: check parent presence: %w", key, err)
	}
	present := func(k domain.Key) bool {
		_, ok := parentDetails[k.String()]
		return ok
	}

	decision, err := s.engine.DecideMethod(ctx, parents, present, len(domain.JoinLines(lines)))
	if err != nil {
		return nil, fmt.Errorf("knit: insert %s: decide method: %w", key, err)
	}

	noEOL := len(lines) > 0 && !endsWithNewline(lines[len(lines)-1])
	// Stored lines always end in LF; the no-eol flag restores the missing
	// terminator on read. Without this the final payload line would
	// run into the record's "end" footer.
	storeLines := lines
	if noEOL {
		storeLines = append(append([][]byte(nil), lines[:len(lines)-1]...),
			append(append([]byte(nil), lines[len(lines)-1]...), '\n'))
	}

	rec := &record.Record{
		VersionID: key.Version(),
		Method:    decision.Method,
		NoEOL:     noEOL,
		Annotated: s.cfg.Annotated,
		SHA1:      digest,
	}
	switch decision.Method {
	case domain.MethodFulltext:
		rec.Lines = toRecordLines(storeLines, key.Version(), s.cfg.Annotated)
	case domain.MethodLineDelta:
		basis, err := s.engine.Reconstruct(ctx, decision.CompressionParent)
		if err != nil {
			return nil, fmt.Errorf("knit: insert %s: reconstruct basis %s: %w", key, decision.CompressionParent, err)
		}
		hunks := content.DiffHunks(storedTexts(basis), storeLines)
		rec.Hunks = toRecordHunks(hunks, key.Version(), s.cfg.Annotated)
	}

	raw, err := record.Serialise(rec)
	if err != nil {
		return nil, fmt.Errorf("knit: insert %s: serialise: %w", key, err)
	}
	memo, err := s.transport.AddRawRecord(ctx, prefix, [][]byte{raw})
	if err != nil {
		return nil, fmt.Errorf("knit: insert %s: write record: %w", key, err)
	}

	options := []string{string(decision.Method)}
	if noEOL {
		options = append(options, domain.FlagNoEOL)
	}
	entry := knitindex.Entry{Key: key, Options: options, Memo: memo, Parents: parents}
	if err := s.index.AddRecords(ctx, []knitindex.Entry{entry}, randomID, nil); err != nil {
		return nil, fmt.Errorf("knit: insert %s: index record: %w", key, err)
	}

	s.metrics.IncInsert(string(decision.Method))
	s.metrics.ObserveInsertDuration(time.Since(start))
	s.logger.Debug().Str("key", key.String()).Str("method", string(decision.Method)).Msg("knit: inserted")
	return key, nil
}

func endsWithNewline(line []byte) bool {
	return len(line) > 0 && line[len(line)-1] == '\n'
}

// storedTexts returns a content's lines in their stored (LF-terminated)
// form, ignoring the no-eol strip that Text() applies, so deltas are
// computed over the same representation they will be applied to.
func storedTexts(c *content.Content) [][]byte {
	ls := c.Lines()
	out := make([][]byte, len(ls))
	for i, l := range ls {
		out[i] = l.Text
	}
	return out
}

func toRecordLines(lines [][]byte, origin string, annotated bool) []record.Line {
	out := make([]record.Line, len(lines))
	for i, l := range lines {
		out[i] = record.Line{Text: l}
		if annotated {
			out[i].Origin = origin
		}
	}
	return out
}

func toRecordHunks(hunks []content.Hunk, origin string, annotated bool) []record.Hunk {
	out := make([]record.Hunk, len(hunks))
	for i, h := range hunks {
		lines := make([]record.Line, len(h.NewLines))
		for j, l := range h.NewLines {
			lines[j] = record.Line{Text: l.Text}
			if annotated {
				lines[j].Origin = origin
			}
		}
		out[i] = record.Hunk{SrcStart: h.Start, SrcEnd: h.End, NewLines: lines}
	}
	return out
}

// GetFulltext returns key's reconstructed fulltext bytes, consulting and
// populating the content cache around the delta engine's chain walk.
func (s *Store) GetFulltext(ctx context.Context, key domain.Key) ([]byte, error) {
	cacheKey := key.String()
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		s.metrics.IncCacheHit("fulltext")
		return cached, nil
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		s.logger.Warn().Err(err).Str("key", cacheKey).Msg("knit: content cache read failed")
	}
	s.metrics.IncCacheMiss("fulltext")

	start := time.Now()
	fulltext, err := s.engine.GetFulltext(ctx, key)
	s.metrics.ObserveReconstructDuration(time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, fulltext, defaultCacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", cacheKey).Msg("knit: content cache write failed")
	}
	return fulltext, nil
}

// Annotate returns per-line origin attribution for key.
func (s *Store) Annotate(ctx context.Context, key domain.Key) ([]content.Line, error) {
	return s.annotator.Annotate(ctx, key)
}

// GetRecordStream resolves keys to ordered factories, optionally expanding
// the delta closure.
func (s *Store) GetRecordStream(ctx context.Context, keys []domain.Key, ordering domain.Ordering, includeDeltaClosure bool) ([]content.Factory, error) {
	return s.streamer.GetRecordStream(ctx, keys, ordering, includeDeltaClosure)
}

// ConvertTo adapts key's native on-disk record into target's representation
//, fetching and applying the compression basis through the delta
// engine when the conversion requires one.
func (s *Store) ConvertTo(ctx context.Context, key domain.Key, target domain.StorageKind) (any, error) {
	f, ok, err := s.GetRawFactory(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.MissingRevisionError{Key: key}
	}
	return adapters.Convert(ctx, f, target, s.basis)
}

// GetParentMap implements recordstream.Store.
func (s *Store) GetParentMap(ctx context.Context, keys []domain.Key) (map[string][]domain.Key, error) {
	return s.index.GetParentMap(ctx, keys)
}

// GetRawFactory implements recordstream.Store. The index's BuildDetails
// does not itself carry the record's SHA-1, so the raw bytes are parsed
// once here to recover it for the returned factory's metadata.
func (s *Store) GetRawFactory(ctx context.Context, key domain.Key) (*content.RawFactory, bool, error) {
	details, err := s.index.GetBuildDetails(ctx, []domain.Key{key})
	if err != nil {
		return nil, false, fmt.Errorf("knit: get raw factory %s: %w", key, err)
	}
	d, ok := details[key.String()]
	if !ok {
		return nil, false, nil
	}

	raws, err := s.transport.GetRawRecords(ctx, []dataaccess.Memo{d.Memo})
	if err != nil {
		return nil, false, fmt.Errorf("knit: get raw factory %s: fetch bytes: %w", key, err)
	}
	raw := raws[0]

	rec, err := record.Parse(raw, key, d.Method, s.cfg.Annotated, d.NoEOL)
	if err != nil {
		return nil, false, err
	}

	f := &content.RawFactory{
		BaseFactory: content.BaseFactory{
			KeyVal:     key,
			ParentsVal: d.Parents,
			Kind:       storageKindFor(d.Method, s.cfg.Annotated),
			SHA1Val:    rec.SHA1,
			SizeVal:    int64(len(raw)),
		},
		CompressionParent: d.CompressionParent,
		NoEOL:             d.NoEOL,
		Raw:               raw,
	}
	return f, true, nil
}

// Position implements recordstream.Positioner.
func (s *Store) Position(ctx context.Context, key domain.Key) (dataaccess.Memo, bool, error) {
	details, err := s.index.GetBuildDetails(ctx, []domain.Key{key})
	if err != nil {
		return dataaccess.Memo{}, false, fmt.Errorf("knit: position %s: %w", key, err)
	}
	d, ok := details[key.String()]
	if !ok {
		return dataaccess.Memo{}, false, nil
	}
	return d.Memo, true, nil
}

// HasBasis implements recordstream.Sink.
func (s *Store) HasBasis(ctx context.Context, key domain.Key) (bool, error) {
	details, err := s.index.GetBuildDetails(ctx, []domain.Key{key})
	if err != nil {
		return false, fmt.Errorf("knit: has basis %s: %w", key, err)
	}
	_, ok := details[key.String()]
	return ok, nil
}

// PutRecord implements recordstream.Sink: it durably commits an incoming
// raw record exactly as received, without re-deciding its storage method.
func (s *Store) PutRecord(ctx context.Context, f *content.RawFactory) error {
	memo, err := s.transport.AddRawRecord(ctx, f.Key().Prefix(), [][]byte{f.Raw})
	if err != nil {
		return fmt.Errorf("knit: put record %s: %w", f.Key(), err)
	}
	options := []string{string(methodFor(f.StorageKind()))}
	if f.NoEOL {
		options = append(options, domain.FlagNoEOL)
	}
	// The index derives a delta's compression parent from parents[0]; a
	// factory carrying a compression parent but no declared parents (a
	// grafted or partially transported record) still needs that edge
	// recorded so Check and reconstruction can see it.
	parents := f.Parents()
	if f.CompressionParent != nil && len(parents) == 0 {
		parents = []domain.Key{f.CompressionParent}
	}
	entry := knitindex.Entry{Key: f.Key(), Options: options, Memo: memo, Parents: parents}
	if err := s.index.AddRecords(ctx, []knitindex.Entry{entry}, false, nil); err != nil {
		return fmt.Errorf("knit: index record %s: %w", f.Key(), err)
	}
	// A key tracked as a missing compression parent from an earlier stream
	// is satisfied the moment it lands.
	if err := s.tracker.MarkResolved(ctx, f.Key()); err != nil {
		s.logger.Warn().Err(err).Str("key", f.Key().String()).Msg("knit: resolve missing-parent entry failed")
	}
	return nil
}

// trackingSink wraps Store's Sink implementation, additionally recording
// which child key referenced each as-yet-unresolved compression parent so
// InsertRecordStream can report accurate (parent, referencedBy) pairs to
// the missing-parent tracker once the stream ends.
type trackingSink struct {
	*Store
	referencedBy map[string]domain.Key
}

// InsertRecordStream commits an incoming record stream — e.g. one produced
// by another store's GetRecordStream and carried over the wire encoding —
// buffering records whose compression parent has not yet arrived and
// recording any that remain unresolved when the stream ends.
func (s *Store) InsertRecordStream(ctx context.Context, factories []content.Factory) error {
	tracking := &trackingSink{Store: s, referencedBy: map[string]domain.Key{}}
	ins := recordstream.NewInserter(tracking, s.metrics)

	for _, f := range factories {
		raw, ok := f.(*content.RawFactory)
		if !ok {
			return fmt.Errorf("knit: insert record stream: factory for %s is not a raw record", f.Key())
		}
		if raw.CompressionParent != nil {
			tracking.referencedBy[raw.CompressionParent.String()] = raw.Key()
		}
		if err := ins.InsertOne(ctx, raw); err != nil {
			return fmt.Errorf("knit: insert record stream: %w", err)
		}
	}

	missing, err := ins.Finish(ctx)
	if err != nil {
		return fmt.Errorf("knit: insert record stream: finish: %w", err)
	}
	for _, k := range missing {
		referencedBy := tracking.referencedBy[k.String()]
		if err := s.tracker.MarkMissing(ctx, k, referencedBy); err != nil {
			return fmt.Errorf("knit: insert record stream: mark missing parent %s: %w", k, err)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn().Int("count", len(missing)).Msg("knit: insert-from-stream left unresolved compression parents")
	}
	stats, err := s.tracker.GetStats(ctx)
	if err == nil {
		s.metrics.SetMissingParents(int(stats.Missing))
	}
	return nil
}

// Check performs a read-only ancestry sweep verifying that every
// line-delta key's compression parent is itself present in the index.
func (s *Store) Check(ctx context.Context) error {
	keys, err := s.index.Keys(ctx)
	if err != nil {
		return fmt.Errorf("knit: check: list keys: %w", err)
	}
	details, err := s.index.GetBuildDetails(ctx, keys)
	if err != nil {
		return fmt.Errorf("knit: check: build details: %w", err)
	}
	for _, k := range keys {
		d, ok := details[k.String()]
		if !ok {
			continue
		}
		if d.Method != domain.MethodLineDelta {
			continue
		}
		if d.CompressionParent == nil {
			return domain.NewCorrupt(k.String(), "line-delta record has no compression parent")
		}
		if _, ok := details[d.CompressionParent.String()]; !ok {
			return &domain.MissingRevisionError{Key: d.CompressionParent}
		}
	}
	s.metrics.SetIndexKeys(len(keys))
	return nil
}

// Locker exposes the store's pluggable distributed lock, for callers (such
// as a replication daemon) that must serialize writes across processes.
func (s *Store) Locker() extlock.Locker {
	return s.locker
}

// Close releases any resources held by the index.
func (s *Store) Close() error {
	if c, ok := s.index.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func storageKindFor(method domain.StorageMethod, annotated bool) domain.StorageKind {
	switch {
	case annotated && method == domain.MethodFulltext:
		return domain.KindAnnotatedFulltext
	case annotated && method == domain.MethodLineDelta:
		return domain.KindAnnotatedDelta
	case method == domain.MethodLineDelta:
		return domain.KindPlainDelta
	default:
		return domain.KindPlainFulltext
	}
}

func methodFor(kind domain.StorageKind) domain.StorageMethod {
	if kind.IsDelta() {
		return domain.MethodLineDelta
	}
	return domain.MethodFulltext
}

var (
	_ recordstream.Store      = (*Store)(nil)
	_ recordstream.Positioner = (*Store)(nil)
	_ recordstream.Sink       = (*Store)(nil)
	_ adapters.BasisProvider  = basisProvider{}
)
