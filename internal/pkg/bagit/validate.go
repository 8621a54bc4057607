package bagit

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefectKind classifies a validation defect
type DefectKind int

// Kinds of defects found by Validate
const (
	ChecksumMismatch DefectKind = iota
	MissingFile
	UnexpectedFile
	UnreadableFile
	InvalidPath
	OxumMismatch
)

// Defect is one problem found while validating a bag
type Defect struct {
	Kind      DefectKind
	Path      string
	Manifest  string
	Algorithm string
	Expected  string
	Found     string
	Detail    string
}

func (d Defect) String() string {
	switch d.Kind {
	case ChecksumMismatch:
		return fmt.Sprintf("%s %s validation failed: expected=%s found=%s", d.Path, d.Algorithm, d.Expected, d.Found)
	case MissingFile:
		return fmt.Sprintf("%s exists in %s but was not found on filesystem", d.Path, d.Manifest)
	case UnexpectedFile:
		return fmt.Sprintf("%s exists on filesystem but is not in %s", d.Path, d.Manifest)
	case UnreadableFile:
		return fmt.Sprintf("%s could not be read: %s", d.Path, d.Detail)
	case InvalidPath:
		return fmt.Sprintf("%s lists invalid path %q", d.Manifest, d.Path)
	case OxumMismatch:
		return fmt.Sprintf("Payload-Oxum validation failed: expected %s found %s", d.Expected, d.Found)
	}
	return fmt.Sprintf("%s: %s", d.Path, d.Detail)
}

// ValidationError lists every defect found in a bag
type ValidationError struct {
	Path    string
	Defects []Defect
}

func (e *ValidationError) Error() string {
	details := make([]string, 0, len(e.Defects))
	for _, d := range e.Defects {
		details = append(details, d.String())
	}
	return fmt.Sprintf("bag validation failed with %d defect(s): %s", len(e.Defects), strings.Join(details, "; "))
}

// ValidatePath opens and validates the bag at dir
func ValidatePath(ctx context.Context, dir string, workers int) error {
	bag, err := Open(dir)
	if err != nil {
		return err
	}
	return bag.Validate(ctx, workers)
}

// Validate checks the Payload-Oxum, completeness and every checksum of the bag.
// Defects are reported as a *ValidationError; any other error means validation couldn't run.
func (b *Bag) Validate(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}

	payload, defects, err := b.payloadFiles()
	if err != nil {
		return fmt.Errorf("listing payload of %s: %w", b.Path, err)
	}

	if d, ok := b.checkOxum(payload); !ok {
		defects = append(defects, d)
	}

	// file -> algorithm -> expected checksum
	expected := map[string]map[string]string{}
	addExpected := func(file, alg, sum string) {
		if expected[file] == nil {
			expected[file] = map[string]string{}
		}
		expected[file][alg] = sum
	}

	for _, m := range b.Manifests {
		defects = append(defects, invalidPathDefects(m)...)
		for file, sum := range m.Entries {
			if _, ok := payload[file]; !ok {
				defects = append(defects, Defect{Kind: MissingFile, Path: file, Manifest: m.File})
				continue
			}
			addExpected(file, m.Algorithm, sum)
		}
		for file := range payload {
			if _, ok := m.Entries[file]; !ok {
				defects = append(defects, Defect{Kind: UnexpectedFile, Path: file, Manifest: m.File})
			}
		}
	}

	for _, m := range b.TagManifests {
		defects = append(defects, invalidPathDefects(m)...)
		for file, sum := range m.Entries {
			if _, err := os.Stat(filepath.Join(b.Path, filepath.FromSlash(file))); err != nil {
				defects = append(defects, Defect{Kind: MissingFile, Path: file, Manifest: m.File})
				continue
			}
			addExpected(file, m.Algorithm, sum)
		}
	}

	checksumDefects, err := b.verifyChecksums(ctx, expected, workers)
	if err != nil {
		return err
	}
	defects = append(defects, checksumDefects...)

	if len(defects) == 0 {
		return nil
	}
	sortDefects(defects)
	return &ValidationError{Path: b.Path, Defects: defects}
}

// payloadFiles returns every file below data/ keyed by slash path, with its size.
// Entries that can't be read (dangling links, unreadable directories) are
// defects; only a failure to read data/ itself is an error.
func (b *Bag) payloadFiles() (map[string]int64, []Defect, error) {
	files := map[string]int64{}
	var defects []Defect
	root := filepath.Join(b.Path, payloadDir)
	unreadable := func(p string, err error) {
		rel, relErr := filepath.Rel(b.Path, p)
		if relErr != nil {
			rel = p
		}
		defects = append(defects, Defect{Kind: UnreadableFile, Path: filepath.ToSlash(rel), Detail: err.Error()})
	}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			unreadable(p, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(p)
		if err != nil {
			unreadable(p, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.Path, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = info.Size()
		return nil
	})
	return files, defects, err
}

func (b *Bag) checkOxum(payload map[string]int64) (Defect, bool) {
	oxum := b.InfoValue(TagPayloadOxum)
	if oxum == "" {
		return Defect{}, true
	}

	var octets int64
	for _, size := range payload {
		octets += size
	}
	found := fmt.Sprintf("%d.%d", octets, len(payload))

	octetsText, countText, ok := strings.Cut(oxum, ".")
	wantOctets, errOctets := strconv.ParseInt(octetsText, 10, 64)
	wantCount, errCount := strconv.Atoi(countText)
	if !ok || errOctets != nil || errCount != nil {
		return Defect{Kind: OxumMismatch, Path: bagInfoFile, Expected: oxum, Found: found, Detail: "malformed Payload-Oxum"}, false
	}
	if wantOctets != octets || wantCount != len(payload) {
		return Defect{Kind: OxumMismatch, Path: bagInfoFile, Expected: oxum, Found: found}, false
	}
	return Defect{}, true
}

type digestResult struct {
	file    string
	sums    map[string]string
	readErr error
}

func (b *Bag) verifyChecksums(ctx context.Context, expected map[string]map[string]string, workers int) ([]Defect, error) {
	files := make([]string, 0, len(expected))
	for f := range expected {
		files = append(files, f)
	}
	sort.Strings(files)

	results := make([]digestResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			algs := make([]string, 0, len(expected[file]))
			for alg := range expected[file] {
				algs = append(algs, alg)
			}
			sums, err := digestFile(filepath.Join(b.Path, filepath.FromSlash(file)), algs)
			results[i] = digestResult{file: file, sums: sums, readErr: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validating checksums of %s: %w", b.Path, err)
	}

	var defects []Defect
	for _, r := range results {
		if r.readErr != nil {
			defects = append(defects, Defect{Kind: UnreadableFile, Path: r.file, Detail: r.readErr.Error()})
			continue
		}
		for alg, want := range expected[r.file] {
			if got := r.sums[alg]; got != want {
				defects = append(defects, Defect{Kind: ChecksumMismatch, Path: r.file, Algorithm: alg, Expected: want, Found: got})
			}
		}
	}
	return defects, nil
}

// digestFile reads file once, feeding every requested hash
func digestFile(file string, algs []string) (map[string]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hashers := make(map[string]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs))
	for _, alg := range algs {
		h := hashes[alg]()
		hashers[alg] = h
		writers = append(writers, h)
	}
	if _, err := io.Copy(io.MultiWriter(writers...), f); err != nil {
		return nil, err
	}

	sums := make(map[string]string, len(hashers))
	for alg, h := range hashers {
		sums[alg] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, nil
}

func invalidPathDefects(m *Manifest) []Defect {
	defects := make([]Defect, 0, len(m.Invalid))
	for _, p := range m.Invalid {
		defects = append(defects, Defect{Kind: InvalidPath, Path: p, Manifest: m.File})
	}
	return defects
}

func sortDefects(defects []Defect) {
	sort.SliceStable(defects, func(i, j int) bool {
		a, b := defects[i], defects[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Manifest != b.Manifest {
			return a.Manifest < b.Manifest
		}
		return a.Algorithm < b.Algorithm
	})
}
