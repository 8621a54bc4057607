// Package bagit reads and validates BagIt packages (RFC 8493).
package bagit

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	declarationFile = "bagit.txt"
	bagInfoFile     = "bag-info.txt"
	payloadDir      = "data"

	manifestPrefix    = "manifest-"
	tagManifestPrefix = "tagmanifest-"
	manifestSuffix    = ".txt"
)

// Tag names read from bagit.txt and bag-info.txt
const (
	TagVersion     = "BagIt-Version"
	TagEncoding    = "Tag-File-Character-Encoding"
	TagPayloadOxum = "Payload-Oxum"
)

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// BagError is returned when a directory isn't shaped like a bag
type BagError struct {
	Path   string
	Reason string
	Err    error
}

func (e *BagError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *BagError) Unwrap() error {
	return e.Err
}

// Tag is one "Label: value" line of a tag file
type Tag struct {
	Label string
	Value string
}

// Manifest is a parsed manifest or tag manifest file
type Manifest struct {
	Algorithm string
	File      string
	// Entries maps the slash separated relative path to its lower-case checksum
	Entries map[string]string
	// Invalid holds entries whose path is absolute, escapes the bag, or is outside the payload
	Invalid []string
}

// Bag is an opened bag directory
type Bag struct {
	Path         string
	Version      string
	Encoding     string
	Info         []Tag
	Manifests    []*Manifest
	TagManifests []*Manifest
}

// Open reads the tag files and manifests of the bag at dir
func Open(dir string) (*Bag, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &BagError{Path: dir, Reason: "bag directory does not exist", Err: err}
	}
	if !info.IsDir() {
		return nil, &BagError{Path: dir, Reason: "bag path is not a directory"}
	}

	bag := &Bag{Path: dir}

	declaration, err := readTagFile(filepath.Join(dir, declarationFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("expected %s does not exist", declarationFile)}
	}
	if err != nil {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("unable to read %s", declarationFile), Err: err}
	}
	bag.Version = tagValue(declaration, TagVersion)
	bag.Encoding = tagValue(declaration, TagEncoding)
	if bag.Version == "" || bag.Encoding == "" {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("%s must declare %s and %s", declarationFile, TagVersion, TagEncoding)}
	}

	payload, err := os.Stat(filepath.Join(dir, payloadDir))
	if err != nil || !payload.IsDir() {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("payload directory missing: expected %s/ directory", payloadDir)}
	}

	bag.Info, err = readTagFile(filepath.Join(dir, bagInfoFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("unable to read %s", bagInfoFile), Err: err}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &BagError{Path: dir, Reason: "unable to list bag directory", Err: err}
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		switch {
		case strings.HasPrefix(name, manifestPrefix):
			m, err := readManifest(dir, name, manifestPrefix, true)
			if err != nil {
				return nil, err
			}
			bag.Manifests = append(bag.Manifests, m)
		case strings.HasPrefix(name, tagManifestPrefix):
			m, err := readManifest(dir, name, tagManifestPrefix, false)
			if err != nil {
				return nil, err
			}
			bag.TagManifests = append(bag.TagManifests, m)
		}
	}

	if len(bag.Manifests) == 0 {
		return nil, &BagError{Path: dir, Reason: "manifest missing: no manifest-<algorithm>.txt found in bag"}
	}

	return bag, nil
}

// InfoValue returns the first bag-info.txt value for label
func (b *Bag) InfoValue(label string) string {
	return tagValue(b.Info, label)
}

// Algorithms returns the algorithms used by the payload manifests
func (b *Bag) Algorithms() []string {
	algs := make([]string, 0, len(b.Manifests))
	for _, m := range b.Manifests {
		algs = append(algs, m.Algorithm)
	}
	sort.Strings(algs)
	return algs
}

func readManifest(dir, name, prefix string, payload bool) (*Manifest, error) {
	alg := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(name, prefix), manifestSuffix))
	if _, ok := hashes[alg]; !ok {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("%s uses unsupported checksum algorithm %q", name, alg)}
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("unable to read %s", name), Err: err}
	}
	defer f.Close()

	m := &Manifest{Algorithm: alg, File: name, Entries: map[string]string{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i <= 0 {
			return nil, &BagError{Path: dir, Reason: fmt.Sprintf("%s line %d: expected checksum and path", name, lineNo)}
		}
		checksum := strings.ToLower(line[:i])
		entryPath := decodeFilename(strings.TrimLeft(line[i:], " \t"))
		if entryPath == "" {
			return nil, &BagError{Path: dir, Reason: fmt.Sprintf("%s line %d: expected checksum and path", name, lineNo)}
		}

		clean, ok := cleanEntryPath(entryPath, payload)
		if !ok {
			m.Invalid = append(m.Invalid, entryPath)
			continue
		}
		m.Entries[clean] = checksum
	}
	if err := scanner.Err(); err != nil {
		return nil, &BagError{Path: dir, Reason: fmt.Sprintf("unable to read %s", name), Err: err}
	}
	return m, nil
}

var filenameDecoder = strings.NewReplacer("%0A", "\n", "%0a", "\n", "%0D", "\r", "%0d", "\r", "%25", "%")

func decodeFilename(p string) string {
	return filenameDecoder.Replace(p)
}

// cleanEntryPath normalises a manifest path, rejecting absolute paths, ".." traversal
// and (for payload manifests) paths outside data/
func cleanEntryPath(p string, payload bool) (string, bool) {
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", false
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", false
	}
	if payload && !strings.HasPrefix(clean, payloadDir+"/") {
		return "", false
	}
	return clean, true
}

// readTagFile parses "Label: value" lines; indented lines continue the previous value
func readTagFile(file string) ([]Tag, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tags []Tag
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(tags) > 0 {
			tags[len(tags)-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		label, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%s: malformed tag line %q", filepath.Base(file), line)
		}
		tags = append(tags, Tag{Label: strings.TrimSpace(label), Value: strings.TrimSpace(value)})
	}
	return tags, scanner.Err()
}

func tagValue(tags []Tag, label string) string {
	for _, t := range tags {
		if strings.EqualFold(t.Label, label) {
			return t.Value
		}
	}
	return ""
}
