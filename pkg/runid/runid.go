// Package runid derives the identity of a command run: the directory the run
// writes into and the "<timestamp>.<inputHash>" prefix shared by its files.
//
// Resolve performs no I/O. The only impure input is the invocation time,
// which callers pass in explicitly.
package runid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// TmpDirName is the directory inserted between the base dir and the stage.
const TmpDirName = "__tmp__"

// TimestampLayout renders the invocation time at second precision, local time.
const TimestampLayout = "20060102.150405"

// ErrUnserializableInput is returned when the input has no canonical encoding.
var ErrUnserializableInput = errors.New("input cannot be canonically serialized")

// Digest names the hash function applied to the canonical input encoding.
type Digest string

const (
	DigestSHA256  Digest = "sha256"
	DigestBLAKE2b Digest = "blake2b"
)

// ParseDigest maps a config string onto a Digest. Empty means sha256.
func ParseDigest(s string) (Digest, error) {
	switch Digest(strings.ToLower(strings.TrimSpace(s))) {
	case "", DigestSHA256:
		return DigestSHA256, nil
	case DigestBLAKE2b:
		return DigestBLAKE2b, nil
	default:
		return "", fmt.Errorf("unknown digest %q (want sha256 or blake2b)", s)
	}
}

func (d Digest) newHash() hash.Hash {
	if d == DigestBLAKE2b {
		// New256 only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	}
	return sha256.New()
}

// Options are the parts of a command definition that shape run naming.
type Options struct {
	BaseDir string
	Stage   string
	Name    string
	Digest  Digest

	// UniqueSuffix appends ".<8 hex chars>" after the input hash so that two
	// identical-input runs within the same second get distinct prefixes.
	UniqueSuffix bool
}

// Identity is the resolved naming of one run.
type Identity struct {
	Directory  string    `json:"directory"`
	FilePrefix string    `json:"file_prefix"`
	InputHash  string    `json:"input_hash"`
	CalledAt   time.Time `json:"called_at"`
}

// LogPath is the append-only structured log of the run.
func (id Identity) LogPath() string {
	return filepath.Join(id.Directory, id.FilePrefix+".log.json")
}

// OutPath is the primary output file of the run.
func (id Identity) OutPath() string {
	return filepath.Join(id.Directory, id.FilePrefix+".out.json")
}

// ArtifactPath is where an auxiliary output called name lands. Names may
// contain nested segments ("reports/analytics/data.json").
func (id Identity) ArtifactPath(name string) string {
	return filepath.Join(id.Directory, id.FilePrefix+".out."+filepath.FromSlash(name))
}

// Directory returns <baseDir>/__tmp__/<stage>/<name>.
func Directory(baseDir, stage, name string) string {
	return filepath.Join(baseDir, TmpDirName, stage, name)
}

// Resolve computes the identity of a run of the given command for input,
// invoked at now.
func Resolve(opts Options, input any, now time.Time) (Identity, error) {
	canonical, err := Canonical(input)
	if err != nil {
		return Identity{}, err
	}

	digest := opts.Digest
	if digest == "" {
		digest = DigestSHA256
	}
	inputHash := HashBytes(digest, canonical)

	prefix := now.Format(TimestampLayout) + "." + inputHash
	if opts.UniqueSuffix {
		u := uuid.New()
		prefix += "." + hex.EncodeToString(u[:4])
	}

	return Identity{
		Directory:  Directory(opts.BaseDir, opts.Stage, opts.Name),
		FilePrefix: prefix,
		InputHash:  inputHash,
		CalledAt:   now,
	}, nil
}

// Canonical returns the deterministic JSON encoding used for hashing.
// Map keys are sorted by encoding/json; struct fields keep declaration order.
func Canonical(input any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializableInput, err)
	}
	// Encode terminates with a newline which is not part of the value.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// HashBytes hex-encodes the digest of b.
func HashBytes(d Digest, b []byte) string {
	h := d.newHash()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
