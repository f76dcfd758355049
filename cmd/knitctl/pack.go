// export/import move records between stores through a sealed, write-once
// container rather than a live transport connection: export streams a set
// of keys out of a store into one container plus a small JSON manifest
// locating each record inside it; import reads the manifest back through a
// dataaccess.ContainerReader (with its reload-on-miss retry) and feeds the
// decoded records through Store.InsertRecordStream exactly as a live
// replication stream would.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/recordstream"
)

// packManifestEntry locates one exported record inside its container.
type packManifestEntry struct {
	Key    string `json:"key"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// packManifest is the JSON sidecar written alongside a sealed container,
// recording where each wire-encoded record lives within it.
type packManifest struct {
	Records []packManifestEntry `json:"records"`
}

func manifestPath(dir string, id dataaccess.ContainerID) string {
	return filepath.Join(dir, string(id)+".manifest.json")
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "knitctl.yaml", "path to knitctl.yaml")
	dir := fs.String("dir", ".", "directory to write the sealed container and manifest into")
	closure := fs.Bool("delta-closure", false, "include every referenced compression parent so each record is independently reconstructible")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("export: expected <container-id> <prefix/version>...")
	}
	containerID := dataaccess.ContainerID(fs.Arg(0))
	keys := make([]domain.Key, fs.NArg()-1)
	for i, a := range fs.Args()[1:] {
		keys[i] = parseKey(a)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer cleanup.run()

	factories, err := store.GetRecordStream(ctx, keys, domain.OrderTopological, *closure)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	writer, err := dataaccess.NewContainerWriter(*dir, containerID)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	var manifest packManifest
	for _, f := range factories {
		raw, ok := f.(*content.RawFactory)
		if !ok {
			logger.Warn().Str("key", f.Key().String()).Str("kind", string(f.StorageKind())).
				Msg("knitctl: export: skipping non-raw factory (absent or closure-ref)")
			continue
		}
		memo, err := writer.Add(recordstream.EncodeRecord(raw))
		if err != nil {
			return fmt.Errorf("export: write record %s: %w", raw.Key(), err)
		}
		manifest.Records = append(manifest.Records, packManifestEntry{
			Key: raw.Key().String(), Offset: memo.Offset, Length: memo.Length,
		})
	}
	if _, err := writer.Finish(); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	mf, err := os.Create(manifestPath(*dir, containerID))
	if err != nil {
		return fmt.Errorf("export: create manifest: %w", err)
	}
	defer mf.Close()
	if err := json.NewEncoder(mf).Encode(manifest); err != nil {
		return fmt.Errorf("export: write manifest: %w", err)
	}

	fmt.Printf("exported %d record(s) to %s\n", len(manifest.Records), filepath.Join(*dir, string(containerID)+".pack"))
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "knitctl.yaml", "path to knitctl.yaml")
	dir := fs.String("dir", ".", "directory the sealed container and manifest live in")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("import: expected <container-id>")
	}
	containerID := dataaccess.ContainerID(fs.Arg(0))

	mf, err := os.Open(manifestPath(*dir, containerID))
	if err != nil {
		return fmt.Errorf("import: open manifest: %w", err)
	}
	var manifest packManifest
	decErr := json.NewDecoder(mf).Decode(&manifest)
	mf.Close()
	if decErr != nil {
		return fmt.Errorf("import: decode manifest: %w", decErr)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer cleanup.run()

	set := dataaccess.NewDirContainerSet(*dir)
	reader := dataaccess.NewContainerReader(set, dataaccess.ReloadContainerSet(*dir))

	memos := make([]dataaccess.ContainerMemo, len(manifest.Records))
	for i, rec := range manifest.Records {
		memos[i] = dataaccess.ContainerMemo{Container: containerID, Offset: rec.Offset, Length: rec.Length}
	}
	raws, err := reader.ReadRange(ctx, memos)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	factories := make([]content.Factory, len(raws))
	for i, data := range raws {
		f, err := rawFactoryFromWire(data)
		if err != nil {
			return fmt.Errorf("import: decode record %s: %w", manifest.Records[i].Key, err)
		}
		factories[i] = f
	}

	if err := store.InsertRecordStream(ctx, factories); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Printf("imported %d record(s) from %s\n", len(factories), filepath.Join(*dir, string(containerID)+".pack"))
	return nil
}

// rawFactoryFromWire reverses recordstream.EncodeRecord. The wire line
// itself carries the record's declared parents, not its compression
// parent; for a non-closure record the compression parent is always
// parents[0] when the storage kind is a delta kind, never otherwise.
func rawFactoryFromWire(data []byte) (*content.RawFactory, error) {
	kind, key, parents, noEOL, raw, err := recordstream.DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	var compressionParent domain.Key
	if kind.IsDelta() && len(parents) > 0 {
		compressionParent = parents[0]
	}
	return &content.RawFactory{
		BaseFactory: content.BaseFactory{
			KeyVal:     key,
			ParentsVal: parents,
			Kind:       kind,
		},
		CompressionParent: compressionParent,
		NoEOL:             noEOL,
		Raw:               raw,
	}, nil
}
